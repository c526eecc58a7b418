// ABOUTME: Tests for connect-time authentication across all three modes.
// ABOUTME: Covers protocol negotiation, role grants, and challenge responses.

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-relay/internal/wire"
)

func intPtr(v int) *int { return &v }

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.True(t, ConstantTimeEqual("", ""))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
	assert.False(t, ConstantTimeEqual("abcd", "abc"))
}

func TestValidateProtocolVersion(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeNone})

	assert.True(t, a.ValidateProtocolVersion(nil, nil))
	assert.True(t, a.ValidateProtocolVersion(intPtr(ProtocolVersion), intPtr(ProtocolVersion)))
	assert.True(t, a.ValidateProtocolVersion(intPtr(1), nil))
	assert.True(t, a.ValidateProtocolVersion(nil, intPtr(ProtocolVersion+5)))

	assert.False(t, a.ValidateProtocolVersion(intPtr(ProtocolVersion+1), intPtr(ProtocolVersion+2)))
	assert.False(t, a.ValidateProtocolVersion(nil, intPtr(ProtocolVersion-1)))
}

func TestAuthenticateProtocolMismatch(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeNone})

	res := a.Authenticate(ConnectParams{MinProtocol: intPtr(ProtocolVersion + 1)}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeInvalidRequest, res.Code)
}

func TestAuthenticateNoneMode(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeNone})

	res := a.Authenticate(ConnectParams{ClientID: "cli-1"}, "")
	require.True(t, res.OK)
	assert.Equal(t, DefaultRole, res.Role)
	assert.Equal(t, "cli-1", res.ClientID)
}

func TestAuthenticateEmptyModeDefaultsToNone(t *testing.T) {
	a := NewAuthenticator(Config{})
	res := a.Authenticate(ConnectParams{}, "")
	assert.True(t, res.OK)
}

func TestAuthenticateRoleRequest(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeNone})

	res := a.Authenticate(ConnectParams{Role: RoleViewer}, "")
	require.True(t, res.OK)
	assert.Equal(t, RoleViewer, res.Role)

	res = a.Authenticate(ConnectParams{Role: Role("superuser")}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeInvalidRequest, res.Code)
}

func TestAuthenticateTokenMode(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeToken, Token: "sekrit"})

	res := a.Authenticate(ConnectParams{Token: "sekrit"}, "")
	assert.True(t, res.OK)

	res = a.Authenticate(ConnectParams{Token: "wrong"}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeUnauthorized, res.Code)

	res = a.Authenticate(ConnectParams{}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeUnauthorized, res.Code)
}

func TestAuthenticateTokenModeAcceptsSignedJWT(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeToken, Token: "sekrit"})

	verifier := NewJWTVerifier([]byte("sekrit"))
	minted, err := verifier.Generate("client-9", time.Hour)
	require.NoError(t, err)

	res := a.Authenticate(ConnectParams{Token: minted}, "")
	require.True(t, res.OK)
	assert.Equal(t, "client-9", res.ClientID, "client id comes from the sub claim")
}

func TestAuthenticateTokenModeRejectsForeignJWT(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModeToken, Token: "sekrit"})

	forged, err := NewJWTVerifier([]byte("other-secret")).Generate("intruder", time.Hour)
	require.NoError(t, err)

	res := a.Authenticate(ConnectParams{Token: forged}, "")
	assert.False(t, res.OK)
}

func TestAuthenticatePasswordMode(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModePassword, Password: "hunter2"})

	res := a.Authenticate(ConnectParams{Password: "hunter2"}, "")
	assert.True(t, res.OK)

	res = a.Authenticate(ConnectParams{Password: "wrong"}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeUnauthorized, res.Code)
}

func TestAuthenticatePasswordChallengeResponse(t *testing.T) {
	a := NewAuthenticator(Config{Mode: ModePassword, Password: "hunter2"})
	nonce := NewNonce()

	answer := ChallengeResponse(nonce.Value, "hunter2")
	res := a.Authenticate(ConnectParams{Password: answer}, nonce.Value)
	assert.True(t, res.OK)

	// The answer only works against its own nonce.
	res = a.Authenticate(ConnectParams{Password: answer}, NewNonce().Value)
	assert.False(t, res.OK)
}

func TestAuthenticatePasswordHashMode(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	a := NewAuthenticator(Config{Mode: ModePassword, PasswordHash: string(hash)})

	res := a.Authenticate(ConnectParams{Password: "hunter2"}, "")
	assert.True(t, res.OK)

	res = a.Authenticate(ConnectParams{Password: "wrong"}, "")
	assert.False(t, res.OK)
}

func TestAuthenticateMisconfiguredModes(t *testing.T) {
	res := NewAuthenticator(Config{Mode: ModeToken}).Authenticate(ConnectParams{Token: "x"}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeInternal, res.Code)

	res = NewAuthenticator(Config{Mode: ModePassword}).Authenticate(ConnectParams{Password: "x"}, "")
	assert.False(t, res.OK)
	assert.Equal(t, wire.CodeInternal, res.Code)
}

func TestNonce(t *testing.T) {
	n := NewNonce()
	assert.Len(t, n.Value, 36)
	assert.False(t, n.Expired(NonceTimeout))
	assert.True(t, n.Expired(0))

	assert.NotEqual(t, n.Value, NewNonce().Value)
}

func TestChallengeResponseIsStable(t *testing.T) {
	assert.Equal(t, ChallengeResponse("n", "s"), ChallengeResponse("n", "s"))
	assert.NotEqual(t, ChallengeResponse("n", "s"), ChallengeResponse("n2", "s"))
	assert.Len(t, ChallengeResponse("n", "s"), 64)
}

func TestRoleValidity(t *testing.T) {
	assert.True(t, RoleViewer.Valid())
	assert.True(t, RoleOperator.Valid())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("root").Valid())
	assert.Equal(t, RoleOperator, DefaultRole)
}

func TestCanCall(t *testing.T) {
	// Viewers get read-only methods only.
	assert.True(t, CanCall(RoleViewer, "channels.list"))
	assert.True(t, CanCall(RoleViewer, "sessions.history"))
	assert.True(t, CanCall(RoleViewer, "me"))
	assert.False(t, CanCall(RoleViewer, "chat.send"))
	assert.False(t, CanCall(RoleViewer, "channels.stop"))

	// Operators get everything except admin methods.
	assert.True(t, CanCall(RoleOperator, "chat.send"))
	assert.True(t, CanCall(RoleOperator, "sessions.list"))
	assert.False(t, CanCall(RoleOperator, "channels.stop"))

	// Admins get everything.
	assert.True(t, CanCall(RoleAdmin, "channels.stop"))
	assert.True(t, CanCall(RoleAdmin, "chat.send"))

	// health is always allowed, even for an unknown role.
	assert.True(t, CanCall(Role("bogus"), "health"))
	assert.False(t, CanCall(Role("bogus"), "me"))
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate("user-1", time.Hour)
	require.NoError(t, err)

	sub, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)
}

func TestJWTVerifierExpired(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate("user-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
