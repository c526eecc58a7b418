// ABOUTME: Session key derivation and per-channel agent resolution.
// ABOUTME: Keys address persisted session state and must stay byte-stable.

package routing

import (
	"github.com/2389/coven-relay/internal/message"
)

// Scope labels used inside session keys.
const (
	ScopeDirect = "direct"
	ScopeGroup  = "group"
)

// SessionKey derives the stable conversation identity for a message:
//
//	agent:{agentID}:{channelLabel}:{direct|group}:{identifier}
//
// The identifier is the chat id for group messages and the sender id for
// direct messages. Identifiers containing colons (Matrix room ids) pass
// through verbatim; the format never escapes.
func SessionKey(agentID string, msg message.IncomingMessage) string {
	scope := ScopeDirect
	identifier := msg.SenderID
	if msg.IsGroup {
		scope = ScopeGroup
		identifier = msg.ChatID
	}
	return "agent:" + agentID + ":" + msg.Channel.String() + ":" + scope + ":" + identifier
}

// Routes maps channel names to agent ids, with a fallback default.
type Routes struct {
	DefaultAgent string            `yaml:"default_agent" toml:"default_agent"`
	Channels     map[string]string `yaml:"channels" toml:"channels"`
}

// ResolveAgent returns the agent id owning the named channel.
// A channel with no override falls back to the default agent; absence of
// an override is not an error.
func ResolveAgent(channelName string, routes Routes) string {
	if agentID, ok := routes.Channels[channelName]; ok && agentID != "" {
		return agentID
	}
	return routes.DefaultAgent
}
