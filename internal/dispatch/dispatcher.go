// ABOUTME: Frame dispatcher enforcing size, auth, and role rules before handlers run.
// ABOUTME: Writes exactly one response per request, or none when no response is possible.

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/wire"
)

// Outcome classifies how a dispatch attempt ended. Protocol-level
// rejections (oversize, malformed) are distinct from response-frame
// errors because the offending frame may not even carry an id.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeFrameTooLarge
	OutcomeMalformed
	OutcomeNotAuthenticated
	OutcomeUnauthorized
	OutcomeMethodNotFound
)

// String returns a label for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFrameTooLarge:
		return "frame_too_large"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeNotAuthenticated:
		return "not_authenticated"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeMethodNotFound:
		return "method_not_found"
	default:
		return "unknown"
	}
}

// ErrResponseWritten indicates a handler tried to write a second response.
var ErrResponseWritten = errors.New("response already written")

// FrameWriter delivers an encoded frame to the client connection.
// Implementations serialize writes internally.
type FrameWriter interface {
	WriteFrame(raw []byte) error
}

// Context bundles everything a handler needs for one request.
// State is the dispatcher's explicit shared dependency (the gateway),
// typed by the handler that uses it.
type Context struct {
	Ctx       context.Context
	RequestID string
	Method    string
	Params    json.RawMessage
	Client    *auth.ClientInfo
	State     any

	writer FrameWriter
	wrote  bool
}

// Result writes the single success response for this request.
func (c *Context) Result(payload any) error {
	if c.wrote {
		return ErrResponseWritten
	}
	raw, err := wire.NewResult(c.RequestID, payload)
	if err != nil {
		return err
	}
	c.wrote = true
	return c.writer.WriteFrame(raw)
}

// Error writes the single error response for this request.
func (c *Context) Error(code wire.ErrorCode, msg string) error {
	if c.wrote {
		return ErrResponseWritten
	}
	raw, err := wire.NewError(c.RequestID, code, msg)
	if err != nil {
		return err
	}
	c.wrote = true
	return c.writer.WriteFrame(raw)
}

// Event writes an event frame. Events do not count against the
// one-response rule; handlers may emit any number before the response.
func (c *Context) Event(name string, payload any) error {
	raw, err := wire.NewEvent(name, payload)
	if err != nil {
		return err
	}
	return c.writer.WriteFrame(raw)
}

// Responded reports whether the response for this request was written.
func (c *Context) Responded() bool {
	return c.wrote
}

// Dispatcher routes validated request frames to registered handlers.
type Dispatcher struct {
	registry *Registry
	state    any
	logger   *slog.Logger
}

// New creates a dispatcher. The state value is handed to every handler
// context; it replaces any notion of an opaque user-data pointer.
func New(registry *Registry, state any, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, state: state, logger: logger}
}

// Dispatch processes one raw frame from a connection. A nil client means
// the connection has not authenticated yet, in which case only the
// connect method may proceed.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, client *auth.ClientInfo, w FrameWriter) Outcome {
	if len(raw) > wire.MaxFrameSize {
		d.logger.Warn("rejecting oversize frame", "bytes", len(raw))
		return OutcomeFrameTooLarge
	}

	kind, err := wire.Kind(raw)
	if err != nil || kind != wire.KindRequest {
		d.logger.Debug("rejecting non-request frame", "kind", kind, "error", err)
		return OutcomeMalformed
	}

	req, err := wire.ParseRequest(raw)
	if err != nil {
		d.logger.Debug("rejecting malformed request", "error", err)
		return OutcomeMalformed
	}

	if client == nil && req.Method != wire.MethodConnect {
		d.writeError(w, req.ID, wire.CodeUnauthorized, "not authenticated")
		return OutcomeNotAuthenticated
	}

	// health bypasses the role ACL entirely. connect is exempt too: a
	// re-connect must reach the handler's already-connected rejection
	// whatever the caller's role.
	if client != nil && req.Method != wire.MethodHealth && req.Method != wire.MethodConnect {
		if !auth.CanCall(client.Role, req.Method) {
			d.logger.Info("method denied by role",
				"method", req.Method,
				"role", string(client.Role),
				"connection_id", client.ConnectionID,
			)
			d.writeError(w, req.ID, wire.CodeUnauthorized, "method not permitted for role")
			return OutcomeUnauthorized
		}
	}

	handler, ok := d.registry.Get(req.Method)
	if !ok {
		d.writeError(w, req.ID, wire.CodeMethodNotFound, "unknown method: "+req.Method)
		return OutcomeMethodNotFound
	}

	c := &Context{
		Ctx:       ctx,
		RequestID: req.ID,
		Method:    req.Method,
		Params:    req.Params,
		Client:    client,
		State:     d.state,
		writer:    w,
	}
	handler(c)

	if !c.Responded() {
		d.logger.Debug("handler wrote no response", "method", req.Method, "request_id", req.ID)
	}
	return OutcomeOK
}

func (d *Dispatcher) writeError(w FrameWriter, id string, code wire.ErrorCode, msg string) {
	raw, err := wire.NewError(id, code, msg)
	if err != nil {
		d.logger.Error("encoding error response", "error", err)
		return
	}
	if err := w.WriteFrame(raw); err != nil {
		d.logger.Debug("writing error response", "error", err)
	}
}
