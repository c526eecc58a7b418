// ABOUTME: Command-line client for the coven-relay websocket protocol.
// ABOUTME: Connects, authenticates, and drives gateway methods from the shell.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/wire"
)

const callTimeout = 90 * time.Second

func main() {
	url := flag.String("url", envOr("COVEN_RELAY_URL", "ws://localhost:8484/ws"), "gateway websocket URL")
	token := flag.String("token", os.Getenv("COVEN_RELAY_TOKEN"), "auth token (token mode)")
	password := flag.String("password", os.Getenv("COVEN_RELAY_PASSWORD"), "auth password (password mode)")
	challenge := flag.Bool("challenge", false, "answer the challenge nonce instead of sending the raw password")
	role := flag.String("role", "", "requested role (viewer/operator/admin)")
	clientID := flag.String("client-id", "", "client identity to present")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := dial(ctx, *url)
	if err != nil {
		fatal(err)
	}
	defer c.close()

	if err := c.connect(*token, *password, *challenge, *role, *clientID); err != nil {
		fatal(err)
	}

	switch args[0] {
	case "health":
		err = c.simpleCall("health", nil)
	case "me":
		err = c.simpleCall("me", nil)
	case "channels":
		err = c.simpleCall("channels.list", nil)
	case "channel-status":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: relay-cli channel-status <channel>"))
		}
		err = c.simpleCall("channels.status", map[string]string{"channel": args[1]})
	case "channel-stop":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: relay-cli channel-stop <channel>"))
		}
		err = c.simpleCall("channels.stop", map[string]string{"channel": args[1]})
	case "sessions":
		err = c.simpleCall("sessions.list", nil)
	case "history":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: relay-cli history <session-key>"))
		}
		err = c.simpleCall("sessions.history", map[string]string{"session_key": args[1]})
	case "send":
		if len(args) < 2 {
			fatal(fmt.Errorf("usage: relay-cli send <text>"))
		}
		err = c.simpleCall("chat.send", map[string]string{"content": strings.Join(args[1:], " ")})
	case "watch":
		err = c.watch(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		os.Exit(1)
	}

	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: relay-cli [flags] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health                   Gateway health")
	fmt.Fprintln(os.Stderr, "  me                       Show this connection's identity")
	fmt.Fprintln(os.Stderr, "  channels                 List channels")
	fmt.Fprintln(os.Stderr, "  channel-status <name>    One channel's status")
	fmt.Fprintln(os.Stderr, "  channel-stop <name>      Stop a channel (admin)")
	fmt.Fprintln(os.Stderr, "  sessions                 List sessions")
	fmt.Fprintln(os.Stderr, "  history <session-key>    Show a session transcript")
	fmt.Fprintln(os.Stderr, "  send <text>              Send a webchat message")
	fmt.Fprintln(os.Stderr, "  watch                    Print events until interrupted")
	fmt.Fprintln(os.Stderr, "")
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// client is one websocket connection to the gateway.
type client struct {
	ws    *websocket.Conn
	nonce string
}

func dial(ctx context.Context, url string) (*client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	c := &client{ws: ws}
	if err := c.readChallenge(); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) close() {
	_ = c.ws.Close()
}

// readChallenge consumes the connect.challenge event the gateway sends
// on open and stores its nonce.
func (c *client) readChallenge() error {
	_ = c.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer c.ws.SetReadDeadline(time.Time{})

	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading challenge: %w", err)
	}
	ev, err := wire.ParseEvent(raw)
	if err != nil || ev.Event != wire.EventConnectChallenge {
		return fmt.Errorf("expected connect.challenge, got %q", string(raw))
	}

	var payload struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return fmt.Errorf("parsing challenge: %w", err)
	}
	c.nonce = payload.Nonce
	return nil
}

// connect authenticates the connection.
func (c *client) connect(token, password string, challenge bool, role, clientID string) error {
	params := auth.ConnectParams{
		ClientID:   clientID,
		ClientMode: "webchat",
		Role:       auth.Role(role),
		Token:      token,
	}
	if password != "" {
		if challenge {
			params.Password = auth.ChallengeResponse(c.nonce, password)
		} else {
			params.Password = password
		}
	}

	res, err := c.call(wire.MethodConnect, params)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("connect rejected: %s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}

// call sends one request and reads frames until its response arrives.
// Events received along the way are printed.
func (c *client) call(method string, params any) (*wire.Response, error) {
	id := uuid.New().String()
	raw, err := wire.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	_ = c.ws.SetReadDeadline(time.Now().Add(callTimeout))
	defer c.ws.SetReadDeadline(time.Time{})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}

		kind, err := wire.Kind(frame)
		if err != nil {
			continue
		}
		switch kind {
		case wire.KindEvent:
			if ev, err := wire.ParseEvent(frame); err == nil {
				printEvent(ev)
			}
		case wire.KindResponse:
			res, err := wire.ParseResponse(frame)
			if err != nil {
				return nil, err
			}
			if res.ID == id {
				return res, nil
			}
		}
	}
}

// simpleCall invokes a method and pretty-prints the payload.
func (c *client) simpleCall(method string, params any) error {
	res, err := c.call(method, params)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	printJSON(res.Payload)
	return nil
}

// watch prints every event frame until the context is canceled.
func (c *client) watch(ctx context.Context) error {
	fmt.Println("watching events (ctrl-c to stop)")

	go func() {
		<-ctx.Done()
		_ = c.ws.Close()
	}()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading events: %w", err)
		}
		if ev, err := wire.ParseEvent(frame); err == nil {
			printEvent(ev)
		}
	}
}

func printEvent(ev *wire.Event) {
	cyan := color.New(color.FgCyan)
	cyan.Printf("event %s ", ev.Event)
	if len(ev.Payload) > 0 {
		fmt.Println(string(ev.Payload))
	} else {
		fmt.Println()
	}
}

func printJSON(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Println("ok")
		return
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(pretty))
}
