// ABOUTME: Webhook-driven Slack adapter: Events API handler in, chat.postMessage out.
// ABOUTME: No background loop; the hosting HTTP layer invokes it synchronously.

// Package slack implements the Slack channel adapter. Inbound traffic
// arrives through the Events API webhook handler this package exposes;
// there is no polling goroutine.
package slack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	defaultAPIBase = "https://slack.com/api"
	sendTimeout    = 30 * time.Second
	verifyTimeout  = 10 * time.Second

	// Maximum clock skew accepted on a signed webhook timestamp.
	signatureTolerance = 5 * time.Minute
)

// Adapter is the Slack channel plugin.
type Adapter struct {
	botToken      string
	signingSecret string
	apiBase       string
	inbound       channel.InboundFunc
	logger        *slog.Logger
	httpClient    *http.Client
	now           func() time.Time

	mu     sync.Mutex
	status message.ChannelStatus
}

// New creates a Slack adapter. When signingSecret is non-empty every
// webhook request must carry a valid Events API signature.
func New(botToken, signingSecret string, inbound channel.InboundFunc, logger *slog.Logger) *Adapter {
	return &Adapter{
		botToken:      botToken,
		signingSecret: signingSecret,
		apiBase:       defaultAPIBase,
		inbound:       inbound,
		logger:        logger,
		httpClient:    &http.Client{Timeout: sendTimeout},
		now:           time.Now,
		status:        message.StatusDisconnected,
	}
}

// Start verifies the bot token via auth.test. Webhook-driven adapters
// have nothing else to launch.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.status = message.StatusConnecting
	a.mu.Unlock()

	if err := a.verify(ctx); err != nil {
		a.mu.Lock()
		a.status = message.StatusError
		a.mu.Unlock()
		return fmt.Errorf("verifying slack token: %w", err)
	}

	a.mu.Lock()
	a.status = message.StatusConnected
	a.mu.Unlock()
	a.logger.Info("slack channel started")
	return nil
}

// Stop marks the adapter disconnected. Idempotent.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = message.StatusDisconnected
	return nil
}

// SendText posts a reply via chat.postMessage. A response Slack marks
// not-ok becomes a *channel.SendError.
func (a *Adapter) SendText(ctx context.Context, msg message.OutgoingMessage) error {
	payload := map[string]any{
		"channel": msg.ChatID,
		"text":    msg.Content,
	}
	if msg.ReplyToID != "" {
		payload["thread_ts"] = msg.ReplyToID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding chat.postMessage: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, a.apiBase+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building chat.postMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return &channel.SendError{Channel: message.ChannelSlack, Detail: "request failed", Err: err}
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return &channel.SendError{Channel: message.ChannelSlack, Detail: "unreadable response", Err: err}
	}
	if !apiResp.OK {
		return &channel.SendError{Channel: message.ChannelSlack, Detail: apiResp.Error}
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
	return message.ChannelSlack
}

func (a *Adapter) verify(ctx context.Context) error {
	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(verifyCtx, http.MethodPost, a.apiBase+"/auth.test", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var apiResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return fmt.Errorf("decoding auth.test: %w", err)
	}
	if !apiResp.OK {
		return fmt.Errorf("auth.test failed: %s", apiResp.Error)
	}
	return nil
}

// Events API wire shapes, reduced to what the adapter reads.

type eventEnvelope struct {
	Type      string      `json:"type"`
	Challenge string      `json:"challenge"`
	Event     *innerEvent `json:"event"`
}

type innerEvent struct {
	Type        string `json:"type"`
	User        string `json:"user"`
	BotID       string `json:"bot_id"`
	Text        string `json:"text"`
	Channel     string `json:"channel"`
	ChannelType string `json:"channel_type"`
	TS          string `json:"ts"`
	ThreadTS    string `json:"thread_ts"`
}

// ServeHTTP handles Events API callbacks: the URL-verification challenge
// and message events. Anything else is acknowledged and dropped.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if a.signingSecret != "" && !a.verifySignature(r, body) {
		a.logger.Warn("rejecting slack event with invalid signature", "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		a.logger.Warn("unparseable slack event", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch envelope.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(envelope.Challenge))
	case "event_callback":
		if msg, ok := normalizeEvent(envelope.Event); ok {
			a.inbound(msg)
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// verifySignature checks the Events API request signature: an HMAC-SHA256
// of "v0:{timestamp}:{body}" under the signing secret, carried in the
// X-Slack-Signature header as "v0=<hex>". Timestamps outside the tolerance
// window fail regardless of the MAC.
func (a *Adapter) verifySignature(r *http.Request, body []byte) bool {
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	sig := r.Header.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return false
	}

	seconds, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := a.now().Sub(time.Unix(seconds, 0))
	if skew > signatureTolerance || skew < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.signingSecret))
	mac.Write([]byte("v0:" + ts + ":"))
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// normalizeEvent converts a message event into the shared model.
// Bot-authored events and events missing sender or channel are skipped.
func normalizeEvent(ev *innerEvent) (message.IncomingMessage, bool) {
	if ev == nil || ev.Type != "message" || ev.BotID != "" {
		return message.IncomingMessage{}, false
	}

	msg := message.IncomingMessage{
		Channel:   message.ChannelSlack,
		MessageID: ev.TS,
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		Content:   ev.Text,
		Kind:      message.KindText,
		IsGroup:   ev.ChannelType != "im",
		ReplyToID: ev.ThreadTS,
		Timestamp: tsToMillis(ev.TS),
	}
	if !msg.Deliverable() {
		return message.IncomingMessage{}, false
	}
	return msg, true
}

// tsToMillis converts a Slack "seconds.micros" timestamp to milliseconds.
func tsToMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}
