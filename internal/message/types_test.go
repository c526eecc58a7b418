// ABOUTME: Tests for channel type parsing and the normalized message model.
// ABOUTME: Covers exact-case label matching and deliverability checks.

package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelType(t *testing.T) {
	ct, err := ParseChannelType("telegram")
	require.NoError(t, err)
	assert.Equal(t, ChannelTelegram, ct)

	for _, label := range []string{"webchat", "discord", "slack", "whatsapp", "signal", "matrix"} {
		ct, err := ParseChannelType(label)
		require.NoError(t, err, label)
		assert.Equal(t, label, ct.String())
	}
}

func TestParseChannelTypeRejectsUnknown(t *testing.T) {
	_, err := ParseChannelType("irc")
	assert.ErrorIs(t, err, ErrUnknownChannelType)
}

func TestParseChannelTypeIsCaseSensitive(t *testing.T) {
	_, err := ParseChannelType("Telegram")
	assert.ErrorIs(t, err, ErrUnknownChannelType)

	_, err = ParseChannelType("TELEGRAM")
	assert.ErrorIs(t, err, ErrUnknownChannelType)
}

func TestChannelTypeValid(t *testing.T) {
	assert.True(t, ChannelMatrix.Valid())
	assert.False(t, ChannelType("carrier-pigeon").Valid())
	assert.False(t, ChannelType("").Valid())
}

func TestChannelStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "unknown", ChannelStatus(42).String())
}

func TestDeliverable(t *testing.T) {
	msg := IncomingMessage{SenderID: "u1", ChatID: "c1", Content: "hi"}
	assert.True(t, msg.Deliverable())

	assert.False(t, IncomingMessage{ChatID: "c1"}.Deliverable())
	assert.False(t, IncomingMessage{SenderID: "u1"}.Deliverable())
	assert.False(t, IncomingMessage{}.Deliverable())
}
