// ABOUTME: ChannelPlugin capability interface and the typed send failure.
// ABOUTME: Every platform adapter implements these five operations.

package channel

import (
	"context"
	"fmt"

	"github.com/2389/coven-relay/internal/message"
)

// InboundFunc receives every normalized message an adapter produces.
// Adapters call it from their own loop or handler goroutine; the gateway
// supplies one function for all adapters at registration time.
type InboundFunc func(msg message.IncomingMessage)

// Plugin is the capability set a chat-platform adapter exposes.
//
// Start performs whatever handshake or verification the platform requires
// and must return with the adapter connected or in the error state.
// SendText must report platform-acknowledged failure as a *SendError
// rather than swallowing it. Callers serialize access to a single plugin
// instance; adapters are not required to be reentrant-safe between their
// own poll loop and SendText.
type Plugin interface {
	Start(ctx context.Context) error
	Stop() error
	SendText(ctx context.Context, msg message.OutgoingMessage) error
	Status() message.ChannelStatus
	Type() message.ChannelType
}

// SendError reports a send the platform acknowledged as failed.
// Distinguish it with errors.As.
type SendError struct {
	Channel message.ChannelType
	Detail  string
	Err     error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send on %s failed: %s: %v", e.Channel, e.Detail, e.Err)
	}
	return fmt.Sprintf("send on %s failed: %s", e.Channel, e.Detail)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
