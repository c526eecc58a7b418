// ABOUTME: One websocket client connection: read loop, serialized writes, auth state.
// ABOUTME: A challenge nonce goes out on open; ClientInfo appears after connect succeeds.

package gateway

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/dispatch"
	"github.com/2389/coven-relay/internal/wire"
)

// Connection is one live websocket client. Frame writes are serialized
// through a mutex; the read loop is the only reader.
type Connection struct {
	id         string
	remoteAddr string
	gw         *Gateway
	ws         *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	client *auth.ClientInfo
	nonce  auth.Nonce
}

// WriteFrame sends one encoded frame to the client.
func (c *Connection) WriteFrame(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Client returns the connection's auth record, nil before connect.
func (c *Connection) Client() *auth.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Connection) setClient(info *auth.ClientInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = info
}

// Nonce returns the challenge issued when the connection opened.
func (c *Connection) Nonce() auth.Nonce {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce
}

// challengePayload is the connect.challenge event body.
type challengePayload struct {
	Nonce string `json:"nonce"`
}

// handleWebsocket upgrades a client and runs its frame loop until the
// socket closes or an oversize frame forces a drop.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := &Connection{
		id:         uuid.New().String(),
		remoteAddr: clientIP(r),
		gw:         g,
		ws:         ws,
		nonce:      auth.NewNonce(),
	}

	// Leave headroom past the frame cap so the dispatcher classifies the
	// oversize frame itself instead of the socket tearing down first.
	ws.SetReadLimit(wire.MaxFrameSize + 64*1024)

	g.addConn(conn)
	defer func() {
		g.removeConn(conn.id)
		_ = ws.Close()
		g.logger.Info("connection closed", "connection_id", conn.id)
	}()

	g.logger.Info("connection opened", "connection_id", conn.id, "remote", conn.remoteAddr)

	if raw, err := wire.NewEvent(wire.EventConnectChallenge, challengePayload{Nonce: conn.nonce.Value}); err == nil {
		if err := conn.WriteFrame(raw); err != nil {
			g.logger.Debug("writing challenge", "error", err)
			return
		}
	}

	dispatcher := dispatch.New(g.methods, conn, g.logger.With("component", "dispatch"))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read failed", "connection_id", conn.id, "error", err)
			}
			return
		}

		outcome := dispatcher.Dispatch(context.Background(), raw, conn.Client(), conn)
		if outcome == dispatch.OutcomeFrameTooLarge {
			// No response is owed for an oversize frame; drop the client.
			return
		}
	}
}

// clientIP extracts the peer address without the port, for rate limiting.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
