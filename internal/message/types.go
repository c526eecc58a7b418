// ABOUTME: Normalized incoming/outgoing message values and channel enumerations.
// ABOUTME: Shared by all adapters, the access policy engine, and the session router.

package message

import (
	"errors"
	"fmt"
)

// ChannelType identifies which chat platform a message came from or goes to.
type ChannelType string

// Supported channel types. Labels are the canonical lowercase wire form.
const (
	ChannelWebchat  ChannelType = "webchat"
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSignal   ChannelType = "signal"
	ChannelMatrix   ChannelType = "matrix"
)

// ErrUnknownChannelType indicates a label outside the closed channel set.
var ErrUnknownChannelType = errors.New("unknown channel type")

// channelTypes is the closed set of valid channel labels.
var channelTypes = map[ChannelType]struct{}{
	ChannelWebchat:  {},
	ChannelTelegram: {},
	ChannelDiscord:  {},
	ChannelSlack:    {},
	ChannelWhatsApp: {},
	ChannelSignal:   {},
	ChannelMatrix:   {},
}

// ParseChannelType converts a label into a ChannelType.
// Matching is exact-case: "Telegram" is not a valid label.
func ParseChannelType(label string) (ChannelType, error) {
	ct := ChannelType(label)
	if _, ok := channelTypes[ct]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannelType, label)
	}
	return ct, nil
}

// String returns the canonical lowercase label.
func (c ChannelType) String() string {
	return string(c)
}

// Valid reports whether the value is a member of the closed channel set.
func (c ChannelType) Valid() bool {
	_, ok := channelTypes[c]
	return ok
}

// MessageKind classifies message content.
type MessageKind string

// Message kinds. Text is the default for both directions.
const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// ChannelStatus is the adapter connection state machine.
//
// disconnected -(start)-> connecting -(ok)-> connected
// connecting -(failure)-> error; stop from any state -> disconnected.
// The only way out of error is another start.
type ChannelStatus int

const (
	StatusDisconnected ChannelStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

// String returns a human-readable status label.
func (s ChannelStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// IncomingMessage is the normalized form of one inbound platform event.
// Produced by an adapter exactly once and never mutated afterwards.
// ChatID and SenderID are mandatory: an adapter must not hand an event
// missing either of them to the router.
type IncomingMessage struct {
	Channel    ChannelType `json:"channel"`
	MessageID  string      `json:"message_id,omitempty"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name,omitempty"`
	ChatID     string      `json:"chat_id"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"message_type,omitempty"`
	IsGroup    bool        `json:"is_group,omitempty"`
	ReplyToID  string      `json:"reply_to_id,omitempty"`
	Timestamp  int64       `json:"timestamp_ms,omitempty"`
}

// Deliverable reports whether the message carries the identifiers the
// router requires.
func (m IncomingMessage) Deliverable() bool {
	return m.SenderID != "" && m.ChatID != ""
}

// OutgoingMessage is a reply handed to a channel adapter's send operation.
// ParseMode is an optional rendering hint ("markdown" or "html") that
// HTML-capable surfaces honor and plain-text surfaces ignore.
type OutgoingMessage struct {
	ChatID    string      `json:"chat_id"`
	Content   string      `json:"content"`
	Kind      MessageKind `json:"message_type,omitempty"`
	ReplyToID string      `json:"reply_to_id,omitempty"`
	ParseMode string      `json:"parse_mode,omitempty"`
}
