// ABOUTME: Agent boundary: the invoker interface and the built-in echo agent.
// ABOUTME: Real agent transports plug in behind AgentInvoker without touching the pipeline.

package gateway

import (
	"context"

	"github.com/2389/coven-relay/internal/message"
)

// AgentInvoker produces the agent's reply for one admitted message.
// Implementations own their transport; the pipeline only sees the reply
// text or the error.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, sessionKey string, msg message.IncomingMessage) (string, error)
}

// EchoInvoker is the built-in agent: it replies with the message content
// verbatim. Useful for smoke-testing a deployment end to end.
type EchoInvoker struct{}

// Invoke returns the incoming content unchanged.
func (EchoInvoker) Invoke(ctx context.Context, agentID, sessionKey string, msg message.IncomingMessage) (string, error) {
	return msg.Content, nil
}
