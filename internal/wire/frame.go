// ABOUTME: Frame schema and builders/parsers for the req/res/event protocol.
// ABOUTME: Oversize frames are rejected before any JSON parsing happens.

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the byte cap on a single frame, enforced before parsing.
const MaxFrameSize = 25 * 1024 * 1024

// Frame kinds.
const (
	KindRequest  = "req"
	KindResponse = "res"
	KindEvent    = "event"
)

// Reserved method names.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
)

// Reserved event names.
const (
	EventConnectChallenge = "connect.challenge"
	EventTick             = "tick"
	EventChatStream       = "chat.stream"
)

// Frame parsing errors.
var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrWrongKind      = errors.New("unexpected frame kind")
)

// Request is a client-to-server method invocation.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one request, echoing its id verbatim.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// Event is an unsolicited server-to-client frame.
type Event struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// frameHead is the minimal probe used to classify an incoming frame.
type frameHead struct {
	Type string `json:"type"`
}

// Kind classifies a raw frame without fully parsing it.
// Returns ErrFrameTooLarge for oversize input and ErrMalformedFrame for
// anything that is not a JSON object with a string type field.
func Kind(raw []byte) (string, error) {
	if len(raw) > MaxFrameSize {
		return "", ErrFrameTooLarge
	}
	var head frameHead
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch head.Type {
	case KindRequest, KindResponse, KindEvent:
		return head.Type, nil
	default:
		return "", fmt.Errorf("%w: type %q", ErrMalformedFrame, head.Type)
	}
}

// ParseRequest decodes a request frame. The id and method fields are
// mandatory; a frame missing either is malformed.
func ParseRequest(raw []byte) (*Request, error) {
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.Type != KindRequest {
		return nil, fmt.Errorf("%w: %q", ErrWrongKind, req.Type)
	}
	if req.ID == "" || req.Method == "" {
		return nil, fmt.Errorf("%w: missing id or method", ErrMalformedFrame)
	}
	return &req, nil
}

// NewRequest builds a request frame. Params may be nil.
func NewRequest(id, method string, params any) ([]byte, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Request{Type: KindRequest, ID: id, Method: method, Params: raw})
}

// NewResult builds a success response echoing the request id.
// A nil payload omits the payload field entirely.
func NewResult(id string, payload any) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Response{Type: KindResponse, ID: id, OK: true, Payload: raw})
}

// NewError builds an error response echoing the request id.
func NewError(id string, code ErrorCode, msg string) ([]byte, error) {
	return json.Marshal(Response{
		Type:  KindResponse,
		ID:    id,
		OK:    false,
		Error: &ErrorDetail{Code: code, Message: msg},
	})
}

// NewEvent builds an event frame. A nil payload omits the payload field.
func NewEvent(name string, payload any) ([]byte, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: KindEvent, Event: name, Payload: raw})
}

// ParseResponse decodes a response frame (used by clients).
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var res Response
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if res.Type != KindResponse {
		return nil, fmt.Errorf("%w: %q", ErrWrongKind, res.Type)
	}
	return &res, nil
}

// ParseEvent decodes an event frame (used by clients).
func ParseEvent(raw []byte) (*Event, error) {
	if len(raw) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if ev.Type != KindEvent {
		return nil, fmt.Errorf("%w: %q", ErrWrongKind, ev.Type)
	}
	return &ev, nil
}

// marshalPayload encodes an arbitrary payload value, passing through nil
// and pre-encoded json.RawMessage untouched.
func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return raw, nil
}
