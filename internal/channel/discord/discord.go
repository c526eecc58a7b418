// ABOUTME: Discord adapter on discordgo: session events in, channel messages out.
// ABOUTME: Guild messages are group-scoped, DMs direct; own messages are suppressed.

// Package discord implements the Discord channel adapter using the
// discordgo gateway session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/message"
)

// Adapter is the Discord channel plugin.
type Adapter struct {
	token   string
	inbound channel.InboundFunc
	logger  *slog.Logger

	mu      sync.Mutex
	status  message.ChannelStatus
	session *discordgo.Session
}

// New creates a Discord adapter.
func New(token string, inbound channel.InboundFunc, logger *slog.Logger) *Adapter {
	return &Adapter{
		token:   token,
		inbound: inbound,
		logger:  logger,
		status:  message.StatusDisconnected,
	}
}

// Start opens the discordgo session. A failed open leaves the adapter in
// the error state.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.status = message.StatusConnecting
	a.mu.Unlock()

	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setStatus(message.StatusError)
		return fmt.Errorf("creating discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.setStatus(message.StatusError)
		return fmt.Errorf("opening discord session: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.status = message.StatusConnected
	a.mu.Unlock()

	a.logger.Info("discord channel started")
	return nil
}

// Stop closes the session. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("closing discord session", "error", err)
		}
		a.session = nil
	}
	a.status = message.StatusDisconnected
	return nil
}

// SendText sends a reply to a Discord channel, threading it onto the
// original message when ReplyToID is set.
func (a *Adapter) SendText(ctx context.Context, msg message.OutgoingMessage) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()

	if session == nil {
		return &channel.SendError{Channel: message.ChannelDiscord, Detail: "session not open"}
	}

	var err error
	if msg.ReplyToID != "" {
		_, err = session.ChannelMessageSendReply(msg.ChatID, msg.Content, &discordgo.MessageReference{
			MessageID: msg.ReplyToID,
			ChannelID: msg.ChatID,
		})
	} else {
		_, err = session.ChannelMessageSend(msg.ChatID, msg.Content)
	}
	if err != nil {
		return &channel.SendError{Channel: message.ChannelDiscord, Detail: "message rejected", Err: err}
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
	return message.ChannelDiscord
}

func (a *Adapter) setStatus(s message.ChannelStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// onMessageCreate translates one Discord message into the shared model.
func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Never react to our own or other bots' messages
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	msg := message.IncomingMessage{
		Channel:    message.ChannelDiscord,
		MessageID:  m.ID,
		SenderID:   m.Author.ID,
		SenderName: m.Author.Username,
		ChatID:     m.ChannelID,
		Content:    m.Content,
		Kind:       message.KindText,
		IsGroup:    m.GuildID != "",
		Timestamp:  m.Timestamp.UnixMilli(),
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	if !msg.Deliverable() {
		return
	}
	a.inbound(msg)
}
