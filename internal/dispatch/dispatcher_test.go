// ABOUTME: Tests for the frame dispatch pipeline and its ordered checks.
// ABOUTME: Oversize and malformed frames get no response; ACL rejections get one.

package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/wire"
)

// frameRecorder captures frames a dispatch writes.
type frameRecorder struct {
	frames [][]byte
}

func (r *frameRecorder) WriteFrame(raw []byte) error {
	r.frames = append(r.frames, raw)
	return nil
}

func (r *frameRecorder) lastResponse(t *testing.T) *wire.Response {
	t.Helper()
	require.NotEmpty(t, r.frames)
	res, err := wire.ParseResponse(r.frames[len(r.frames)-1])
	require.NoError(t, err)
	return res
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func operatorClient() *auth.ClientInfo {
	return &auth.ClientInfo{ConnectionID: "conn-1", Role: auth.RoleOperator, Authenticated: true}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return New(reg, nil, testLogger()), reg
}

func request(t *testing.T, id, method string, params any) []byte {
	t.Helper()
	raw, err := wire.NewRequest(id, method, params)
	require.NoError(t, err)
	return raw
}

func TestDispatchOversizeFrameGetsNoResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := &frameRecorder{}

	big := []byte(`{"type":"req","id":"1","method":"x","params":"` + strings.Repeat("a", wire.MaxFrameSize) + `"}`)
	outcome := d.Dispatch(context.Background(), big, operatorClient(), w)

	assert.Equal(t, OutcomeFrameTooLarge, outcome)
	assert.Empty(t, w.frames)
}

func TestDispatchMalformedFrameGetsNoResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := &frameRecorder{}

	outcome := d.Dispatch(context.Background(), []byte(`{not json`), operatorClient(), w)
	assert.Equal(t, OutcomeMalformed, outcome)
	assert.Empty(t, w.frames)
}

func TestDispatchNonRequestFrameGetsNoResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := &frameRecorder{}

	ev, err := wire.NewEvent("tick", nil)
	require.NoError(t, err)

	outcome := d.Dispatch(context.Background(), ev, operatorClient(), w)
	assert.Equal(t, OutcomeMalformed, outcome)
	assert.Empty(t, w.frames)
}

func TestDispatchUnauthenticatedNonConnectRejected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("channels.list", func(c *Context) {
		t.Fatal("handler must not run")
	})
	w := &frameRecorder{}

	outcome := d.Dispatch(context.Background(), request(t, "1", "channels.list", nil), nil, w)

	assert.Equal(t, OutcomeNotAuthenticated, outcome)
	res := w.lastResponse(t)
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeUnauthorized, res.Error.Code)
	assert.Equal(t, "1", res.ID)
}

func TestDispatchUnauthenticatedHealthRejected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register(wire.MethodHealth, func(c *Context) {
		t.Fatal("handler must not run")
	})
	w := &frameRecorder{}

	// connect is the only pre-auth method; the health ACL bypass applies
	// after authentication, not before.
	outcome := d.Dispatch(context.Background(), request(t, "1", wire.MethodHealth, nil), nil, w)

	assert.Equal(t, OutcomeNotAuthenticated, outcome)
	res := w.lastResponse(t)
	assert.Equal(t, wire.CodeUnauthorized, res.Error.Code)
	assert.Equal(t, "1", res.ID)
}

func TestDispatchUnauthenticatedConnectAllowed(t *testing.T) {
	d, reg := newTestDispatcher(t)
	called := false
	reg.Register(wire.MethodConnect, func(c *Context) {
		called = true
		require.NoError(t, c.Result(map[string]string{"status": "ok"}))
	})
	w := &frameRecorder{}

	outcome := d.Dispatch(context.Background(), request(t, "1", wire.MethodConnect, nil), nil, w)

	assert.Equal(t, OutcomeOK, outcome)
	assert.True(t, called)
	assert.True(t, w.lastResponse(t).OK)
}

func TestDispatchRoleDenied(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("chat.send", func(c *Context) {
		t.Fatal("handler must not run")
	})
	w := &frameRecorder{}
	viewer := &auth.ClientInfo{ConnectionID: "c", Role: auth.RoleViewer, Authenticated: true}

	outcome := d.Dispatch(context.Background(), request(t, "9", "chat.send", nil), viewer, w)

	assert.Equal(t, OutcomeUnauthorized, outcome)
	res := w.lastResponse(t)
	assert.Equal(t, wire.CodeUnauthorized, res.Error.Code)
	assert.Equal(t, "9", res.ID)
}

func TestDispatchHealthBypassesACL(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register(wire.MethodHealth, func(c *Context) {
		require.NoError(t, c.Result(map[string]string{"status": "ok"}))
	})
	w := &frameRecorder{}
	weird := &auth.ClientInfo{ConnectionID: "c", Role: auth.Role("bogus"), Authenticated: true}

	outcome := d.Dispatch(context.Background(), request(t, "1", wire.MethodHealth, nil), weird, w)

	assert.Equal(t, OutcomeOK, outcome)
	assert.True(t, w.lastResponse(t).OK)
}

func TestDispatchReconnectReachesHandlerForAnyRole(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register(wire.MethodConnect, func(c *Context) {
		require.NoError(t, c.Error(wire.CodeInvalidRequest, "already connected"))
	})
	w := &frameRecorder{}
	viewer := &auth.ClientInfo{ConnectionID: "c", Role: auth.RoleViewer, Authenticated: true}

	outcome := d.Dispatch(context.Background(), request(t, "2", wire.MethodConnect, nil), viewer, w)

	assert.Equal(t, OutcomeOK, outcome)
	res := w.lastResponse(t)
	assert.Equal(t, wire.CodeInvalidRequest, res.Error.Code)
}

func TestDispatchUnknownMethod(t *testing.T) {
	d, _ := newTestDispatcher(t)
	w := &frameRecorder{}

	outcome := d.Dispatch(context.Background(), request(t, "5", "no.such.method", nil), operatorClient(), w)

	assert.Equal(t, OutcomeMethodNotFound, outcome)
	res := w.lastResponse(t)
	assert.Equal(t, wire.CodeMethodNotFound, res.Error.Code)
	assert.Equal(t, "5", res.ID)
}

func TestDispatchHandlerReceivesContext(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("echo", func(c *Context) {
		assert.Equal(t, "req-1", c.RequestID)
		assert.Equal(t, "echo", c.Method)

		var params map[string]string
		require.NoError(t, json.Unmarshal(c.Params, &params))
		require.NoError(t, c.Result(params))
	})
	w := &frameRecorder{}

	outcome := d.Dispatch(context.Background(), request(t, "req-1", "echo", map[string]string{"k": "v"}), operatorClient(), w)

	assert.Equal(t, OutcomeOK, outcome)
	res := w.lastResponse(t)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"k":"v"}`, string(res.Payload))
}

func TestContextSingleResponse(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("twice", func(c *Context) {
		require.NoError(t, c.Result(nil))
		assert.ErrorIs(t, c.Result(nil), ErrResponseWritten)
		assert.ErrorIs(t, c.Error(wire.CodeInternal, "again"), ErrResponseWritten)
		assert.True(t, c.Responded())
	})
	w := &frameRecorder{}

	d.Dispatch(context.Background(), request(t, "1", "twice", nil), operatorClient(), w)
	assert.Len(t, w.frames, 1)
}

func TestContextEventsDoNotCountAsResponse(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register("streamy", func(c *Context) {
		require.NoError(t, c.Event("chat.stream", map[string]string{"content": "partial"}))
		assert.False(t, c.Responded())
		require.NoError(t, c.Result(map[string]string{"status": "ok"}))
	})
	w := &frameRecorder{}

	d.Dispatch(context.Background(), request(t, "1", "streamy", nil), operatorClient(), w)
	require.Len(t, w.frames, 2)

	ev, err := wire.ParseEvent(w.frames[0])
	require.NoError(t, err)
	assert.Equal(t, "chat.stream", ev.Event)

	res, err := wire.ParseResponse(w.frames[1])
	require.NoError(t, err)
	assert.True(t, res.OK)
}
