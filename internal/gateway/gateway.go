// ABOUTME: Gateway orchestrator wiring channels, store, auth, and the websocket endpoint.
// ABOUTME: Manages listener setup (TCP or tsnet), channel startup, and graceful shutdown.

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/channel/discord"
	"github.com/2389/coven-relay/internal/channel/matrix"
	"github.com/2389/coven-relay/internal/channel/slack"
	"github.com/2389/coven-relay/internal/channel/telegram"
	"github.com/2389/coven-relay/internal/channel/webchat"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/dispatch"
	"github.com/2389/coven-relay/internal/message"
	"github.com/2389/coven-relay/internal/ratelimit"
	"github.com/2389/coven-relay/internal/store"
)

// Gateway orchestrates the coven-relay server components: the channel
// registry, session store, authenticator, and the websocket endpoint
// clients speak the framed protocol over.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	store    store.Store
	channels *channel.Registry
	auth     *auth.Authenticator
	limiter  *ratelimit.Limiter
	methods  *dispatch.Registry
	invoker  AgentInvoker

	httpServer  *http.Server
	tsnetServer *tsnet.Server
	upgrader    websocket.Upgrader

	// webchat is non-nil when the in-process chat channel is enabled;
	// chat.send is unavailable without it.
	webchat *webchat.Adapter

	mu    sync.Mutex
	conns map[string]*Connection

	startedAt time.Time
}

// initStore creates the session store from config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("COVEN_RELAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway instance with the given configuration. Channel
// adapters are constructed here but not started until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		store:    s,
		channels: channel.NewRegistry(logger.With("component", "channel-registry")),
		auth:     auth.NewAuthenticator(cfg.Auth),
		limiter:  ratelimit.New(ratelimit.DefaultMaxAttempts, ratelimit.DefaultWindow),
		invoker:  EchoInvoker{},
		conns:    make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	g.methods = newMethodRegistry()

	slackAdapter, err := g.buildChannels(logger)
	if err != nil {
		_ = s.Close()
		g.limiter.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWebsocket)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	if slackAdapter != nil {
		mux.Handle("/webhooks/slack", slackAdapter)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// SetInvoker replaces the agent invoker. Call before Run; the default is
// the echo invoker.
func (g *Gateway) SetInvoker(inv AgentInvoker) {
	g.invoker = inv
}

// buildChannels constructs and registers every enabled channel adapter.
// The slack adapter is returned separately so its webhook handler can be
// mounted on the HTTP mux.
func (g *Gateway) buildChannels(logger *slog.Logger) (*slack.Adapter, error) {
	cfg := g.config.Channels

	inbound := func(msg message.IncomingMessage) {
		go g.handleInbound(msg)
	}

	if cfg.Webchat.Enabled {
		g.webchat = webchat.New(g.deliverWebchat, logger.With("component", "webchat"))
		g.channels.Register("webchat", g.webchat)
	}

	if cfg.Telegram.Enabled {
		var pollInterval time.Duration
		if cfg.Telegram.PollInterval != "" {
			var err error
			pollInterval, err = time.ParseDuration(cfg.Telegram.PollInterval)
			if err != nil {
				return nil, fmt.Errorf("parsing telegram poll_interval: %w", err)
			}
		}
		tg := telegram.New(cfg.Telegram.BotToken, pollInterval, inbound, logger.With("component", "telegram"))
		g.channels.Register("telegram", tg)
	}

	if cfg.Discord.Enabled {
		dc := discord.New(cfg.Discord.BotToken, inbound, logger.With("component", "discord"))
		g.channels.Register("discord", dc)
	}

	var slackAdapter *slack.Adapter
	if cfg.Slack.Enabled {
		slackAdapter = slack.New(cfg.Slack.BotToken, cfg.Slack.SigningToken, inbound, logger.With("component", "slack"))
		g.channels.Register("slack", slackAdapter)
	}

	if cfg.Matrix.Enabled {
		mx, err := matrix.New(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken, inbound, logger.With("component", "matrix"))
		if err != nil {
			return nil, fmt.Errorf("creating matrix adapter: %w", err)
		}
		g.channels.Register("matrix", mx)
	}

	return slackAdapter, nil
}

// startChannels starts every registered adapter. A failed start leaves
// that adapter in its error state and never blocks the others.
func (g *Gateway) startChannels(ctx context.Context) {
	for _, name := range g.channels.Names() {
		p, ok := g.channels.Get(name)
		if !ok {
			continue
		}
		if err := p.Start(ctx); err != nil {
			g.logger.Error("channel failed to start", "channel", name, "error", err)
		}
	}
}

// Run starts the gateway and blocks until the context is canceled or the
// HTTP server fails. Shutdown is graceful on context cancellation.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.startedAt = time.Now()
	g.startChannels(ctx)

	tickCtx, tickCancel := context.WithCancel(ctx)
	defer tickCancel()
	go g.tickLoop(tickCtx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context; the run context is
// already canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the gateway: HTTP listener first so no new work arrives,
// then channels, then the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	g.channels.StopAll()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	g.limiter.Close()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates the client-facing listener: a tsnet node when
// tailscale is enabled, a plain TCP socket otherwise.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, defaulting under
// the user's data dir when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if status.Self != nil {
		g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "dns_name", status.Self.DNSName)
	}

	if tsCfg.HTTPS {
		return g.setupTailscaleTLSListener()
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// setupTailscaleTLSListener serves HTTPS using tailscale-provisioned certs.
func (g *Gateway) setupTailscaleTLSListener() (net.Listener, error) {
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// handleHealth returns 200 OK while the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when no channel adapter sits in the error
// state, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, name := range g.channels.Names() {
		p, ok := g.channels.Get(name)
		if !ok {
			continue
		}
		if p.Status() == message.StatusError {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "channel %s in error state", name)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d channels)", g.channels.Count())
}

// addConn registers a live connection.
func (g *Gateway) addConn(c *Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

// removeConn drops a closed connection.
func (g *Gateway) removeConn(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
}

// connSnapshot returns the live connections at this instant.
func (g *Gateway) connSnapshot() []*Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	return conns
}
