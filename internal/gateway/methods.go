// ABOUTME: Gateway method handlers registered with the frame dispatcher.
// ABOUTME: connect is the only method reachable before authentication.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/access"
	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/dispatch"
	"github.com/2389/coven-relay/internal/message"
	"github.com/2389/coven-relay/internal/store"
	"github.com/2389/coven-relay/internal/wire"
)

// newMethodRegistry builds the dispatcher registry with every gateway
// method. Handlers recover their connection from the dispatch state.
func newMethodRegistry() *dispatch.Registry {
	reg := dispatch.NewRegistry()
	reg.Register(wire.MethodConnect, handleConnect)
	reg.Register(wire.MethodHealth, handleHealthMethod)
	reg.Register("me", handleMe)
	reg.Register("chat.send", handleChatSend)
	reg.Register("channels.list", handleChannelsList)
	reg.Register("channels.status", handleChannelsStatus)
	reg.Register("channels.stop", handleChannelsStop)
	reg.Register("sessions.list", handleSessionsList)
	reg.Register("sessions.history", handleSessionsHistory)
	return reg
}

func connOf(c *dispatch.Context) (*Connection, *Gateway) {
	conn := c.State.(*Connection)
	return conn, conn.gw
}

func respond(c *dispatch.Context, err error, g *Gateway) {
	if err != nil {
		g.logger.Debug("writing response", "method", c.Method, "error", err)
	}
}

// connectResult is the successful connect payload.
type connectResult struct {
	Protocol     int    `json:"protocol"`
	ConnectionID string `json:"connection_id"`
	Role         string `json:"role"`
}

// handleConnect authenticates the connection. Rate-limited attempts fail
// exactly like bad credentials so probing reveals nothing.
func handleConnect(c *dispatch.Context) {
	conn, g := connOf(c)

	if conn.Client() != nil {
		respond(c, c.Error(wire.CodeInvalidRequest, "already connected"), g)
		return
	}

	var params auth.ConnectParams
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &params); err != nil {
			respond(c, c.Error(wire.CodeInvalidRequest, "malformed connect params"), g)
			return
		}
	}

	limiterKey := conn.remoteAddr
	if !g.limiter.Check(limiterKey) {
		g.limiter.RecordFailure(limiterKey)
		g.logger.Warn("connect rate limited", "remote", conn.remoteAddr)
		respond(c, c.Error(wire.CodeUnauthorized, "invalid credentials"), g)
		return
	}

	nonceValue := ""
	if nonce := conn.Nonce(); !nonce.Expired(auth.NonceTimeout) {
		nonceValue = nonce.Value
	}

	result := g.auth.Authenticate(params, nonceValue)
	if !result.OK {
		g.limiter.RecordFailure(limiterKey)
		g.logger.Info("connect rejected", "remote", conn.remoteAddr, "code", string(result.Code))
		respond(c, c.Error(result.Code, result.Message), g)
		return
	}
	g.limiter.Reset(limiterKey)

	info := &auth.ClientInfo{
		ConnectionID:  conn.id,
		Role:          result.Role,
		ClientID:      result.ClientID,
		ClientMode:    params.ClientMode,
		Authenticated: true,
	}
	conn.setClient(info)

	g.logger.Info("client connected",
		"connection_id", conn.id,
		"client_id", result.ClientID,
		"role", string(result.Role),
	)
	respond(c, c.Result(connectResult{
		Protocol:     auth.ProtocolVersion,
		ConnectionID: conn.id,
		Role:         string(result.Role),
	}), g)
}

// healthResult is the health method payload.
type healthResult struct {
	Status   string `json:"status"`
	Protocol int    `json:"protocol"`
	Channels int    `json:"channels"`
	UptimeMS int64  `json:"uptime_ms"`
}

func handleHealthMethod(c *dispatch.Context) {
	_, g := connOf(c)
	respond(c, c.Result(healthResult{
		Status:   "ok",
		Protocol: auth.ProtocolVersion,
		Channels: g.channels.Count(),
		UptimeMS: time.Since(g.startedAt).Milliseconds(),
	}), g)
}

// meResult describes the caller's own connection.
type meResult struct {
	ConnectionID string `json:"connection_id"`
	ClientID     string `json:"client_id,omitempty"`
	ClientMode   string `json:"client_mode,omitempty"`
	Role         string `json:"role"`
}

func handleMe(c *dispatch.Context) {
	_, g := connOf(c)
	respond(c, c.Result(meResult{
		ConnectionID: c.Client.ConnectionID,
		ClientID:     c.Client.ClientID,
		ClientMode:   c.Client.ClientMode,
		Role:         string(c.Client.Role),
	}), g)
}

// chatSendParams is the chat.send request body.
type chatSendParams struct {
	Content   string `json:"content"`
	ChatID    string `json:"chat_id,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// chatSendResult is the chat.send response payload.
type chatSendResult struct {
	Status     string `json:"status"`
	SessionKey string `json:"session_key,omitempty"`
}

// handleChatSend injects a webchat message into the inbound pipeline.
// The reply streams back as a chat.stream event before the response.
func handleChatSend(c *dispatch.Context) {
	conn, g := connOf(c)

	if g.webchat == nil {
		respond(c, c.Error(wire.CodeUnavailable, "webchat channel not enabled"), g)
		return
	}

	var params chatSendParams
	if err := json.Unmarshal(c.Params, &params); err != nil || params.Content == "" {
		respond(c, c.Error(wire.CodeInvalidRequest, "content is required"), g)
		return
	}

	senderID := c.Client.ClientID
	if senderID == "" {
		senderID = conn.id
	}
	chatID := params.ChatID
	if chatID == "" {
		chatID = conn.id
	}

	msg := message.IncomingMessage{
		Channel:    message.ChannelWebchat,
		MessageID:  uuid.New().String(),
		SenderID:   senderID,
		SenderName: c.Client.ClientID,
		ChatID:     chatID,
		Content:    params.Content,
		Kind:       message.KindText,
		Timestamp:  time.Now().UnixMilli(),
	}

	ctx, cancel := context.WithTimeout(c.Ctx, inboundTimeout)
	defer cancel()

	res, err := g.process(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			respond(c, c.Error(wire.CodeAgentTimeout, "agent did not reply in time"), g)
			return
		}
		g.logger.Error("chat.send pipeline failed", "error", err)
		respond(c, c.Error(wire.CodeInternal, "message processing failed"), g)
		return
	}

	switch res.Decision {
	case access.Deny:
		respond(c, c.Error(wire.CodeUnauthorized, "message denied by policy"), g)
		return
	case access.Ignore:
		respond(c, c.Result(chatSendResult{Status: "ignored"}), g)
		return
	}

	out := message.OutgoingMessage{
		ChatID:    chatID,
		Content:   res.Reply,
		Kind:      message.KindText,
		ReplyToID: msg.MessageID,
		ParseMode: params.ParseMode,
	}
	if err := g.webchat.SendText(ctx, out); err != nil {
		g.logger.Warn("webchat reply delivery failed", "error", err)
	}

	respond(c, c.Result(chatSendResult{Status: "ok", SessionKey: res.SessionKey}), g)
}

// channelInfo is one entry in the channels.list payload.
type channelInfo struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

func handleChannelsList(c *dispatch.Context) {
	_, g := connOf(c)

	names := g.channels.Names()
	sort.Strings(names)

	channels := make([]channelInfo, 0, len(names))
	for _, name := range names {
		p, ok := g.channels.Get(name)
		if !ok {
			continue
		}
		channels = append(channels, channelInfo{
			Name:   name,
			Type:   p.Type().String(),
			Status: p.Status().String(),
		})
	}
	respond(c, c.Result(map[string]any{"channels": channels}), g)
}

// channelParams names a single channel for status and stop.
type channelParams struct {
	Channel string `json:"channel"`
}

func handleChannelsStatus(c *dispatch.Context) {
	_, g := connOf(c)

	var params channelParams
	if err := json.Unmarshal(c.Params, &params); err != nil || params.Channel == "" {
		respond(c, c.Error(wire.CodeInvalidRequest, "channel is required"), g)
		return
	}

	p, ok := g.channels.Get(params.Channel)
	if !ok {
		respond(c, c.Error(wire.CodeNotLinked, "channel not configured: "+params.Channel), g)
		return
	}
	respond(c, c.Result(channelInfo{
		Name:   params.Channel,
		Type:   p.Type().String(),
		Status: p.Status().String(),
	}), g)
}

func handleChannelsStop(c *dispatch.Context) {
	_, g := connOf(c)

	var params channelParams
	if err := json.Unmarshal(c.Params, &params); err != nil || params.Channel == "" {
		respond(c, c.Error(wire.CodeInvalidRequest, "channel is required"), g)
		return
	}

	p, ok := g.channels.Get(params.Channel)
	if !ok {
		respond(c, c.Error(wire.CodeNotLinked, "channel not configured: "+params.Channel), g)
		return
	}

	g.logger.Info("stopping channel by request",
		"channel", params.Channel,
		"connection_id", c.Client.ConnectionID,
	)
	if err := p.Stop(); err != nil {
		g.logger.Error("channel stop failed", "channel", params.Channel, "error", err)
		respond(c, c.Error(wire.CodeInternal, "stop failed"), g)
		return
	}
	respond(c, c.Result(channelInfo{
		Name:   params.Channel,
		Type:   p.Type().String(),
		Status: p.Status().String(),
	}), g)
}

// sessionsListParams is the sessions.list request body.
type sessionsListParams struct {
	Limit int `json:"limit,omitempty"`
}

// sessionInfo is one entry in the sessions.list payload.
type sessionInfo struct {
	Key          string `json:"key"`
	AgentID      string `json:"agent_id"`
	Channel      string `json:"channel"`
	LastActivity int64  `json:"last_activity_ms"`
	CreatedAt    int64  `json:"created_at_ms"`
}

func handleSessionsList(c *dispatch.Context) {
	_, g := connOf(c)

	var params sessionsListParams
	if len(c.Params) > 0 {
		if err := json.Unmarshal(c.Params, &params); err != nil {
			respond(c, c.Error(wire.CodeInvalidRequest, "malformed params"), g)
			return
		}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	sessions, err := g.store.ListSessions(c.Ctx, limit)
	if err != nil {
		g.logger.Error("listing sessions", "error", err)
		respond(c, c.Error(wire.CodeInternal, "session lookup failed"), g)
		return
	}

	infos := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo{
			Key:          s.Key,
			AgentID:      s.AgentID,
			Channel:      s.Channel,
			LastActivity: s.LastActivity.UnixMilli(),
			CreatedAt:    s.CreatedAt.UnixMilli(),
		})
	}
	respond(c, c.Result(map[string]any{"sessions": infos}), g)
}

// sessionsHistoryParams is the sessions.history request body.
type sessionsHistoryParams struct {
	SessionKey string `json:"session_key"`
	Limit      int    `json:"limit,omitempty"`
}

// transcriptInfo is one entry in the sessions.history payload.
type transcriptInfo struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at_ms"`
}

func handleSessionsHistory(c *dispatch.Context) {
	_, g := connOf(c)

	var params sessionsHistoryParams
	if err := json.Unmarshal(c.Params, &params); err != nil || params.SessionKey == "" {
		respond(c, c.Error(wire.CodeInvalidRequest, "session_key is required"), g)
		return
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	entries, err := g.store.GetTranscript(c.Ctx, params.SessionKey, limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respond(c, c.Error(wire.CodeNotPaired, "unknown session"), g)
			return
		}
		g.logger.Error("loading transcript", "session_key", params.SessionKey, "error", err)
		respond(c, c.Error(wire.CodeInternal, "transcript lookup failed"), g)
		return
	}

	infos := make([]transcriptInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, transcriptInfo{
			ID:        e.ID,
			Sender:    e.Sender,
			Content:   e.Content,
			CreatedAt: e.CreatedAt.UnixMilli(),
		})
	}
	respond(c, c.Result(map[string]any{
		"session_key": params.SessionKey,
		"entries":     infos,
	}), g)
}
