// ABOUTME: Inbound message pipeline: policy check, routing, persistence, agent, reply.
// ABOUTME: Platform sends that fail are logged via the typed SendError, never fatal.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-relay/internal/access"
	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/channel/webchat"
	"github.com/2389/coven-relay/internal/message"
	"github.com/2389/coven-relay/internal/routing"
	"github.com/2389/coven-relay/internal/wire"
)

// inboundTimeout bounds one message's trip through the pipeline,
// including the agent invocation.
const inboundTimeout = 60 * time.Second

// pipelineResult is what one admitted message produced.
type pipelineResult struct {
	Decision   access.Decision
	SessionKey string
	AgentID    string
	Reply      string
}

// process runs one normalized message through policy, routing,
// persistence, and the agent. Messages the policy ignores or denies come
// back with the decision set and nothing else done.
func (g *Gateway) process(ctx context.Context, msg message.IncomingMessage) (pipelineResult, error) {
	res := pipelineResult{Decision: access.Check(msg, g.config.Policy)}

	switch res.Decision {
	case access.Ignore:
		g.logger.Debug("message ignored by policy",
			"channel", msg.Channel.String(),
			"sender_id", msg.SenderID,
			"is_group", msg.IsGroup,
		)
		return res, nil
	case access.Deny:
		g.logger.Info("message denied by policy",
			"channel", msg.Channel.String(),
			"sender_id", msg.SenderID,
			"is_group", msg.IsGroup,
		)
		return res, nil
	}

	res.AgentID = routing.ResolveAgent(msg.Channel.String(), g.config.Routes)
	if res.AgentID == "" {
		return res, fmt.Errorf("no agent route for channel %s", msg.Channel)
	}
	res.SessionKey = routing.SessionKey(res.AgentID, msg)

	// Persistence failures degrade to lost history, not lost replies.
	if err := g.store.TouchSession(ctx, res.SessionKey, res.AgentID, msg.Channel.String()); err != nil {
		g.logger.Error("touching session", "session_key", res.SessionKey, "error", err)
	}
	if err := g.store.AppendTranscript(ctx, res.SessionKey, msg.SenderID, msg.Content); err != nil {
		g.logger.Error("recording inbound transcript", "session_key", res.SessionKey, "error", err)
	}

	reply, err := g.invoker.Invoke(ctx, res.AgentID, res.SessionKey, msg)
	if err != nil {
		return res, fmt.Errorf("invoking agent %s: %w", res.AgentID, err)
	}
	res.Reply = reply

	if err := g.store.AppendTranscript(ctx, res.SessionKey, "agent:"+res.AgentID, reply); err != nil {
		g.logger.Error("recording reply transcript", "session_key", res.SessionKey, "error", err)
	}

	return res, nil
}

// handleInbound is the InboundFunc target for platform adapters. It runs
// on its own goroutine per message so slow agents never stall a poll loop.
func (g *Gateway) handleInbound(msg message.IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()

	res, err := g.process(ctx, msg)
	if err != nil {
		g.logger.Error("inbound pipeline failed", "channel", msg.Channel.String(), "error", err)
		return
	}
	if res.Decision != access.Allow {
		return
	}

	plugin, ok := g.channels.Get(msg.Channel.String())
	if !ok {
		g.logger.Warn("no adapter for reply channel", "channel", msg.Channel.String())
		return
	}

	out := message.OutgoingMessage{
		ChatID:    msg.ChatID,
		Content:   res.Reply,
		Kind:      message.KindText,
		ReplyToID: msg.MessageID,
	}
	if err := plugin.SendText(ctx, out); err != nil {
		var sendErr *channel.SendError
		if errors.As(err, &sendErr) {
			g.logger.Warn("platform rejected reply",
				"channel", sendErr.Channel.String(),
				"detail", sendErr.Detail,
				"session_key", res.SessionKey,
			)
			return
		}
		g.logger.Error("sending reply", "channel", msg.Channel.String(), "error", err)
	}
}

// streamPayload is the chat.stream event body delivered to webchat clients.
type streamPayload struct {
	ChatID    string `json:"chat_id"`
	Content   string `json:"content"`
	HTML      string `json:"html,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
	Done      bool   `json:"done"`
}

// deliverWebchat routes one webchat reply to connected clients. A chat id
// matching a connection id targets that client alone; anything else is
// broadcast to every authenticated connection.
func (g *Gateway) deliverWebchat(d webchat.Delivery) error {
	payload := streamPayload{
		ChatID:    d.Message.ChatID,
		Content:   d.Message.Content,
		HTML:      d.HTML,
		ReplyToID: d.Message.ReplyToID,
		Done:      true,
	}
	raw, err := wire.NewEvent(wire.EventChatStream, payload)
	if err != nil {
		return err
	}

	g.mu.Lock()
	target, targeted := g.conns[d.Message.ChatID]
	g.mu.Unlock()

	if targeted {
		return target.WriteFrame(raw)
	}

	delivered := 0
	for _, conn := range g.connSnapshot() {
		if conn.Client() == nil {
			continue
		}
		if err := conn.WriteFrame(raw); err != nil {
			g.logger.Debug("webchat delivery failed", "connection_id", conn.id, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		g.logger.Debug("webchat reply had no recipients", "chat_id", d.Message.ChatID)
	}
	return nil
}
