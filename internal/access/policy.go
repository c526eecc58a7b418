// ABOUTME: Per-scope admission policy for inbound messages.
// ABOUTME: Direct messages use open/allowlist/denylist, groups use disabled/mention_only/always.

package access

import (
	"strings"

	"github.com/2389/coven-relay/internal/message"
)

// Decision is the three-way outcome of a policy check.
type Decision int

const (
	// Allow admits the message to the agent.
	Allow Decision = iota
	// Deny rejects the message; the caller may respond with a refusal.
	Deny
	// Ignore silently drops the message; no response is owed.
	Ignore
)

// String returns a human-readable decision label.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// DM policy modes.
const (
	DMOpen      = "open"
	DMAllowlist = "allowlist"
	DMDenylist  = "denylist"
)

// Group policy modes.
const (
	GroupDisabled    = "disabled"
	GroupMentionOnly = "mention_only"
	GroupAlways      = "always"
)

// Policy configures admission for one gateway.
// Zero-value string modes fall back to the defaults: open for direct
// messages, mention_only for groups.
type Policy struct {
	DMMode        string   `yaml:"dm_mode" toml:"dm_mode"`
	GroupMode     string   `yaml:"group_mode" toml:"group_mode"`
	AllowedUsers  []string `yaml:"allowed_users" toml:"allowed_users"`
	DeniedUsers   []string `yaml:"denied_users" toml:"denied_users"`
	AllowedGroups []string `yaml:"allowed_groups" toml:"allowed_groups"`
	BotUsername   string   `yaml:"bot_username" toml:"bot_username"`
}

// Check evaluates the policy for one message.
func Check(msg message.IncomingMessage, policy Policy) Decision {
	if msg.IsGroup {
		return checkGroup(msg, policy)
	}
	return checkDirect(msg, policy)
}

// checkDirect applies the direct-message policy. Membership checks are
// exact string equality: "user12" never matches a listed "user123".
func checkDirect(msg message.IncomingMessage, policy Policy) Decision {
	switch policy.DMMode {
	case DMAllowlist:
		if contains(policy.AllowedUsers, msg.SenderID) {
			return Allow
		}
		return Deny
	case DMDenylist:
		if contains(policy.DeniedUsers, msg.SenderID) {
			return Deny
		}
		return Allow
	default: // DMOpen
		return Allow
	}
}

// checkGroup applies the group policy. Disabled means ignore, never deny.
func checkGroup(msg message.IncomingMessage, policy Policy) Decision {
	switch policy.GroupMode {
	case GroupDisabled:
		return Ignore
	case GroupAlways:
		if len(policy.AllowedGroups) > 0 && !contains(policy.AllowedGroups, msg.ChatID) {
			return Ignore
		}
		return Allow
	default: // GroupMentionOnly
		if MentionsUser(msg.Content, policy.BotUsername) {
			return Allow
		}
		return Ignore
	}
}

// MentionsUser reports whether content contains "@username" as a whole
// token: the character before the '@' and the character after the name
// must be non-alphanumeric (or the string boundary). Comparison is
// case-insensitive, so "@BOT" mentions username "bot" but "@botmaster"
// does not.
func MentionsUser(content, username string) bool {
	if username == "" || content == "" {
		return false
	}

	lowerContent := strings.ToLower(content)
	needle := "@" + strings.ToLower(username)

	for start := 0; ; {
		idx := strings.Index(lowerContent[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start

		before := idx == 0 || !isAlnum(lowerContent[idx-1])
		end := idx + len(needle)
		after := end == len(lowerContent) || !isAlnum(lowerContent[end])
		if before && after {
			return true
		}
		start = idx + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
