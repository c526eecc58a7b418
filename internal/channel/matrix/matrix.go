// ABOUTME: Matrix adapter on mautrix: sync loop in, room messages out.
// ABOUTME: Markdown replies are rendered to HTML formatted bodies.

// Package matrix implements the Matrix channel adapter using the mautrix
// client. Matrix conversations are room-addressed, so messages are
// group-scoped; room ids (which contain colons) pass through the session
// key verbatim.
package matrix

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/message"
)

const (
	verifyTimeout = 10 * time.Second
	sendTimeout   = 30 * time.Second
)

// Adapter is the Matrix channel plugin.
type Adapter struct {
	userID  string
	client  *mautrix.Client
	inbound channel.InboundFunc
	logger  *slog.Logger

	mu     sync.Mutex
	status message.ChannelStatus
	cancel context.CancelFunc
}

// New creates a Matrix adapter connected to the given homeserver.
func New(homeserver, userID, accessToken string, inbound channel.InboundFunc, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(homeserver, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	a := &Adapter{
		userID:  userID,
		client:  client,
		inbound: inbound,
		logger:  logger,
		status:  message.StatusDisconnected,
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, a.handleMessageEvent)

	return a, nil
}

// Start verifies the access token and launches the sync loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.status = message.StatusConnecting
	a.mu.Unlock()

	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	if _, err := a.client.Whoami(verifyCtx); err != nil {
		a.mu.Lock()
		a.status = message.StatusError
		a.mu.Unlock()
		return fmt.Errorf("verifying matrix access token: %w", err)
	}

	syncCtx, syncCancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.cancel = syncCancel
	a.status = message.StatusConnected
	a.mu.Unlock()

	go func() {
		if err := a.client.SyncWithContext(syncCtx); err != nil && syncCtx.Err() == nil {
			a.logger.Error("matrix sync stopped", "error", err)
			a.mu.Lock()
			a.status = message.StatusError
			a.mu.Unlock()
		}
	}()

	a.logger.Info("matrix channel started", "user_id", a.userID)
	return nil
}

// Stop cancels the sync loop. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.status = message.StatusDisconnected
	return nil
}

// SendText sends a reply into a room. Markdown content is rendered to an
// HTML formatted body; everything else goes out as plain text.
func (a *Adapter) SendText(ctx context.Context, msg message.OutgoingMessage) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	roomID := id.RoomID(msg.ChatID)

	var err error
	if msg.ParseMode == "markdown" {
		var htmlBuf bytes.Buffer
		if mdErr := goldmark.Convert([]byte(msg.Content), &htmlBuf); mdErr == nil {
			_, err = a.client.SendMessageEvent(sendCtx, roomID, event.EventMessage, &event.MessageEventContent{
				MsgType:       event.MsgText,
				Body:          msg.Content,
				Format:        event.FormatHTML,
				FormattedBody: htmlBuf.String(),
			})
		} else {
			a.logger.Warn("markdown render failed, sending plain text", "error", mdErr)
			_, err = a.client.SendText(sendCtx, roomID, msg.Content)
		}
	} else {
		_, err = a.client.SendText(sendCtx, roomID, msg.Content)
	}

	if err != nil {
		return &channel.SendError{Channel: message.ChannelMatrix, Detail: "send rejected", Err: err}
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
	return message.ChannelMatrix
}

// handleMessageEvent translates one room message into the shared model.
func (a *Adapter) handleMessageEvent(ctx context.Context, evt *event.Event) {
	// Ignore our own messages
	if evt.Sender == id.UserID(a.userID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.MsgType != event.MsgText {
		return
	}

	msg := message.IncomingMessage{
		Channel:    message.ChannelMatrix,
		MessageID:  evt.ID.String(),
		SenderID:   evt.Sender.String(),
		SenderName: evt.Sender.Localpart(),
		ChatID:     evt.RoomID.String(),
		Content:    content.Body,
		Kind:       message.KindText,
		IsGroup:    true,
		Timestamp:  evt.Timestamp,
	}
	if !msg.Deliverable() {
		return
	}
	a.inbound(msg)
}
