// ABOUTME: Tests for the admission policy engine and mention detection.
// ABOUTME: Exercises every dm/group mode and the token-boundary mention rules.

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-relay/internal/message"
)

func directMsg(senderID string) message.IncomingMessage {
	return message.IncomingMessage{
		Channel:  message.ChannelTelegram,
		SenderID: senderID,
		ChatID:   senderID,
		Content:  "hello",
	}
}

func groupMsg(chatID, content string) message.IncomingMessage {
	return message.IncomingMessage{
		Channel:  message.ChannelTelegram,
		SenderID: "u1",
		ChatID:   chatID,
		Content:  content,
		IsGroup:  true,
	}
}

func TestDirectOpenAllowsEveryone(t *testing.T) {
	policy := Policy{DMMode: DMOpen}
	assert.Equal(t, Allow, Check(directMsg("anyone"), policy))

	// Zero value defaults to open.
	assert.Equal(t, Allow, Check(directMsg("anyone"), Policy{}))
}

func TestDirectAllowlist(t *testing.T) {
	policy := Policy{DMMode: DMAllowlist, AllowedUsers: []string{"user123"}}

	assert.Equal(t, Allow, Check(directMsg("user123"), policy))
	assert.Equal(t, Deny, Check(directMsg("stranger"), policy))
}

func TestDirectAllowlistIsExactMatch(t *testing.T) {
	policy := Policy{DMMode: DMAllowlist, AllowedUsers: []string{"user123"}}

	assert.Equal(t, Deny, Check(directMsg("user12"), policy))
	assert.Equal(t, Deny, Check(directMsg("user1234"), policy))
}

func TestDirectDenylist(t *testing.T) {
	policy := Policy{DMMode: DMDenylist, DeniedUsers: []string{"banned"}}

	assert.Equal(t, Deny, Check(directMsg("banned"), policy))
	assert.Equal(t, Allow, Check(directMsg("friend"), policy))
}

func TestGroupDisabledIgnoresNotDenies(t *testing.T) {
	policy := Policy{GroupMode: GroupDisabled}
	assert.Equal(t, Ignore, Check(groupMsg("g1", "@bot hello"), policy))
}

func TestGroupAlways(t *testing.T) {
	policy := Policy{GroupMode: GroupAlways}
	assert.Equal(t, Allow, Check(groupMsg("g1", "no mention at all"), policy))
}

func TestGroupAlwaysWithAllowedGroups(t *testing.T) {
	policy := Policy{GroupMode: GroupAlways, AllowedGroups: []string{"g1"}}

	assert.Equal(t, Allow, Check(groupMsg("g1", "hi"), policy))
	assert.Equal(t, Ignore, Check(groupMsg("g2", "hi"), policy))
}

func TestGroupMentionOnly(t *testing.T) {
	policy := Policy{GroupMode: GroupMentionOnly, BotUsername: "bot"}

	assert.Equal(t, Allow, Check(groupMsg("g1", "hey @bot do something"), policy))
	assert.Equal(t, Ignore, Check(groupMsg("g1", "nothing for you"), policy))

	// Default group mode is mention_only.
	assert.Equal(t, Ignore, Check(groupMsg("g1", "no mention"), Policy{BotUsername: "bot"}))
}

func TestMentionsUser(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"@bot", true},
		{"@bot!", true},
		{"@bot, please", true},
		{"done @bot.", true},
		{"hey @BOT", true},
		{"(@bot)", true},
		{"@botmaster", false},
		{"@bot123", false},
		{"email@bot", false}, // '@' preceded by alnum
		{"no mention", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MentionsUser(tt.content, "bot"), "content=%q", tt.content)
	}
}

func TestMentionsUserLaterOccurrence(t *testing.T) {
	// The first occurrence is embedded, the second stands alone.
	assert.True(t, MentionsUser("ask @botmaster or @bot", "bot"))
}

func TestMentionsUserEmptyUsername(t *testing.T) {
	assert.False(t, MentionsUser("@bot hello", ""))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "ignore", Ignore.String())
}
