// ABOUTME: Telegram long-poll adapter: getUpdates loop with backoff, sendMessage replies.
// ABOUTME: The update offset is instance-scoped and cleared by Stop for clean resumes.

// Package telegram implements the Telegram Bot API channel adapter.
// A single goroutine long-polls getUpdates; transient failures back off
// exponentially (capped) instead of tearing the loop down.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/message"
)

const (
	defaultAPIBase   = "https://api.telegram.org"
	longPollSeconds  = 50
	backoffBase      = 1 * time.Second
	backoffMax       = 30 * time.Second
	sendTimeout      = 30 * time.Second
	verifyTimeout    = 10 * time.Second
	defaultPollPause = 500 * time.Millisecond
)

// Adapter is the Telegram channel plugin.
type Adapter struct {
	token        string
	apiBase      string
	pollInterval time.Duration
	inbound      channel.InboundFunc
	logger       *slog.Logger
	httpClient   *http.Client

	mu     sync.Mutex
	status message.ChannelStatus
	offset int64
	cancel context.CancelFunc
}

// New creates a Telegram adapter. Inbound messages flow to the supplied
// function from the adapter's own poll goroutine.
func New(token string, pollInterval time.Duration, inbound channel.InboundFunc, logger *slog.Logger) *Adapter {
	if pollInterval <= 0 {
		pollInterval = defaultPollPause
	}
	return &Adapter{
		token:        token,
		apiBase:      defaultAPIBase,
		pollInterval: pollInterval,
		inbound:      inbound,
		logger:       logger,
		httpClient:   &http.Client{Timeout: (longPollSeconds + 10) * time.Second},
		status:       message.StatusDisconnected,
	}
}

// Start verifies the bot token via getMe and launches the poll loop.
// On verification failure the adapter lands in the error state.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.status == message.StatusConnected {
		a.mu.Unlock()
		return nil
	}
	a.status = message.StatusConnecting
	a.mu.Unlock()

	if err := a.verify(ctx); err != nil {
		a.mu.Lock()
		a.status = message.StatusError
		a.mu.Unlock()
		return fmt.Errorf("verifying telegram bot: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.cancel = cancel
	a.status = message.StatusConnected
	a.mu.Unlock()

	go a.pollLoop(loopCtx)
	a.logger.Info("telegram channel started")
	return nil
}

// Stop cancels the poll loop and clears the update offset so a later
// Start resumes from fresh updates. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.offset = 0
	a.status = message.StatusDisconnected
	return nil
}

// SendText delivers a reply via sendMessage. A response Telegram marks
// not-ok becomes a *channel.SendError.
func (a *Adapter) SendText(ctx context.Context, msg message.OutgoingMessage) error {
	payload := map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Content,
	}
	if msg.ParseMode != "" {
		// Telegram spells the markdown mode "Markdown"/"HTML"
		switch msg.ParseMode {
		case "markdown":
			payload["parse_mode"] = "Markdown"
		case "html":
			payload["parse_mode"] = "HTML"
		}
	}
	if msg.ReplyToID != "" {
		if replyID, err := strconv.ParseInt(msg.ReplyToID, 10, 64); err == nil {
			payload["reply_to_message_id"] = replyID
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding sendMessage: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, a.apiURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &channel.SendError{Channel: message.ChannelTelegram, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return &channel.SendError{Channel: message.ChannelTelegram, Detail: "unreadable response", Err: err}
	}
	if !apiResp.OK {
		return &channel.SendError{Channel: message.ChannelTelegram, Detail: apiResp.Description}
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
	return message.ChannelTelegram
}

// verify calls getMe to confirm the token works.
func (a *Adapter) verify(ctx context.Context) error {
	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(verifyCtx, http.MethodGet, a.apiURL("getMe"), nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decoding getMe: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("getMe rejected token")
	}
	return nil
}

// pollLoop long-polls getUpdates until the context is cancelled.
// Transient failures back off exponentially; success resets the delay.
func (a *Adapter) pollLoop(ctx context.Context) {
	delay := backoffBase

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := a.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("telegram poll failed, backing off", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > backoffMax {
				delay = backoffMax
			}
			continue
		}
		delay = backoffBase

		for _, u := range updates {
			a.advanceOffset(u.UpdateID)
			if msg, ok := normalizeUpdate(u); ok {
				a.inbound(msg)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.pollInterval):
		}
	}
}

func (a *Adapter) fetchUpdates(ctx context.Context) ([]update, error) {
	a.mu.Lock()
	offset := a.offset
	a.mu.Unlock()

	url := fmt.Sprintf("%s?timeout=%d&offset=%d", a.apiURL("getUpdates"), longPollSeconds, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResp struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decoding getUpdates: %w", err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("getUpdates rejected")
	}
	return apiResp.Result, nil
}

// advanceOffset moves the cursor past a consumed update.
func (a *Adapter) advanceOffset(updateID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if updateID >= a.offset {
		a.offset = updateID + 1
	}
}

func (a *Adapter) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", a.apiBase, a.token, method)
}

// Telegram API wire shapes, reduced to the fields the adapter reads.

type update struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int64      `json:"message_id"`
	From      *tgUser    `json:"from"`
	Chat      tgChat     `json:"chat"`
	Text      string     `json:"text"`
	Date      int64      `json:"date"`
	ReplyTo   *tgMessage `json:"reply_to_message"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// normalizeUpdate converts one Telegram update into the shared message
// model. Updates without both a sender and a chat are not deliverable
// and are skipped.
func normalizeUpdate(u update) (message.IncomingMessage, bool) {
	if u.Message == nil || u.Message.From == nil {
		return message.IncomingMessage{}, false
	}

	m := u.Message
	senderName := m.From.Username
	if senderName == "" {
		senderName = m.From.FirstName
	}

	msg := message.IncomingMessage{
		Channel:    message.ChannelTelegram,
		MessageID:  strconv.FormatInt(m.MessageID, 10),
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: senderName,
		ChatID:     strconv.FormatInt(m.Chat.ID, 10),
		Content:    m.Text,
		Kind:       message.KindText,
		IsGroup:    m.Chat.Type != "private",
		Timestamp:  m.Date * 1000,
	}
	if m.ReplyTo != nil {
		msg.ReplyToID = strconv.FormatInt(m.ReplyTo.MessageID, 10)
	}
	if !msg.Deliverable() {
		return message.IncomingMessage{}, false
	}
	return msg, true
}
