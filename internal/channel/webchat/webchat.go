// ABOUTME: In-process webchat adapter backing gateway clients' chat surface.
// ABOUTME: Replies are handed to a delivery callback, markdown rendered to HTML.

// Package webchat implements the channel adapter for gateway-local chat
// clients. There is no platform connection: inbound messages are injected
// by the chat.send method and replies are delivered back to connected
// clients through a callback.
package webchat

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/yuin/goldmark"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/message"
)

// Delivery is one reply delivered to webchat clients. HTML carries the
// rendered form when the outgoing message asked for markdown.
type Delivery struct {
	Message message.OutgoingMessage
	HTML    string
}

// DeliverFunc receives replies destined for webchat clients.
type DeliverFunc func(d Delivery) error

// Adapter is the in-process webchat channel plugin.
type Adapter struct {
	mu      sync.Mutex
	status  message.ChannelStatus
	deliver DeliverFunc
	logger  *slog.Logger
}

// New creates a webchat adapter delivering replies through the callback.
func New(deliver DeliverFunc, logger *slog.Logger) *Adapter {
	return &Adapter{
		status:  message.StatusDisconnected,
		deliver: deliver,
		logger:  logger,
	}
}

// Start marks the adapter connected. There is nothing to verify.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = message.StatusConnected
	return nil
}

// Stop marks the adapter disconnected. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = message.StatusDisconnected
	return nil
}

// SendText delivers a reply to webchat clients, rendering markdown to
// HTML when requested.
func (a *Adapter) SendText(ctx context.Context, msg message.OutgoingMessage) error {
	d := Delivery{Message: msg}
	if msg.ParseMode == "markdown" {
		var htmlBuf bytes.Buffer
		if err := goldmark.Convert([]byte(msg.Content), &htmlBuf); err != nil {
			a.logger.Warn("markdown render failed, sending plain text", "error", err)
		} else {
			d.HTML = htmlBuf.String()
		}
	}
	if err := a.deliver(d); err != nil {
		return &channel.SendError{Channel: message.ChannelWebchat, Detail: "delivery failed", Err: err}
	}
	return nil
}

// Status returns the adapter's connection state.
func (a *Adapter) Status() message.ChannelStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Type returns the channel type.
func (a *Adapter) Type() message.ChannelType {
	return message.ChannelWebchat
}
