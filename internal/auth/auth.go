// ABOUTME: Connect-time authentication: modes, protocol negotiation, role grant.
// ABOUTME: Produces ClientInfo records that accompany every later dispatch.

package auth

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-relay/internal/wire"
)

// ProtocolVersion is the single protocol version this server speaks.
const ProtocolVersion = 3

// Mode selects the connect-time credential check.
type Mode string

const (
	ModeNone     Mode = "none"
	ModeToken    Mode = "token"
	ModePassword Mode = "password"
)

// Config holds the gateway's authentication settings.
// Exactly one credential field matters per mode: Token for token mode,
// Password or PasswordHash (bcrypt) for password mode.
type Config struct {
	Mode         Mode   `yaml:"mode" toml:"mode"`
	Token        string `yaml:"token" toml:"token"`
	Password     string `yaml:"password" toml:"password"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash"`
}

// ConnectParams carries a client's connect request: proposed protocol
// bounds, identity, requested role, and credential. Token and Password
// are mutually exclusive per the gateway's configured mode.
type ConnectParams struct {
	MinProtocol *int   `json:"min_protocol,omitempty"`
	MaxProtocol *int   `json:"max_protocol,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	ClientMode  string `json:"client_mode,omitempty"`
	Role        Role   `json:"role,omitempty"`
	Token       string `json:"token,omitempty"`
	Password    string `json:"password,omitempty"`
}

// Result is the outcome of one authentication attempt.
type Result struct {
	OK       bool
	Role     Role
	ClientID string
	Code     wire.ErrorCode
	Message  string
}

func failure(code wire.ErrorCode, msg string) Result {
	return Result{Code: code, Message: msg}
}

// ClientInfo is the durable per-connection record created on successful
// authentication and supplied to every subsequent dispatch call.
type ClientInfo struct {
	ConnectionID  string
	Role          Role
	ClientID      string
	ClientMode    string
	Authenticated bool
}

// Authenticator evaluates connect requests against the configured mode.
type Authenticator struct {
	cfg      Config
	version  int
	verifier *JWTVerifier
}

// NewAuthenticator builds an authenticator for the configured mode.
// In token mode the same secret also verifies HS256 JWTs.
func NewAuthenticator(cfg Config) *Authenticator {
	if cfg.Mode == "" {
		cfg.Mode = ModeNone
	}
	a := &Authenticator{cfg: cfg, version: ProtocolVersion}
	if cfg.Token != "" {
		a.verifier = NewJWTVerifier([]byte(cfg.Token))
	}
	return a
}

// ValidateProtocolVersion checks the server version against the client's
// optional bounds. An absent bound means no constraint on that side.
func (a *Authenticator) ValidateProtocolVersion(min, max *int) bool {
	if min != nil && a.version < *min {
		return false
	}
	if max != nil && a.version > *max {
		return false
	}
	return true
}

// Authenticate evaluates one connect request. The nonce is the challenge
// issued to this connection; password mode accepts its sha256 response in
// place of the raw secret.
func (a *Authenticator) Authenticate(params ConnectParams, nonce string) Result {
	if !a.ValidateProtocolVersion(params.MinProtocol, params.MaxProtocol) {
		return failure(wire.CodeInvalidRequest, "unsupported protocol version")
	}

	role := params.Role
	if role == "" {
		role = DefaultRole
	}
	if !role.Valid() {
		return failure(wire.CodeInvalidRequest, "unknown role")
	}

	switch a.cfg.Mode {
	case ModeNone:
		return Result{OK: true, Role: role, ClientID: params.ClientID}
	case ModeToken:
		return a.authenticateToken(params, role)
	case ModePassword:
		return a.authenticatePassword(params, role, nonce)
	default:
		return failure(wire.CodeInternal, "unknown auth mode")
	}
}

func (a *Authenticator) authenticateToken(params ConnectParams, role Role) Result {
	if a.cfg.Token == "" {
		return failure(wire.CodeInternal, "token auth not configured")
	}
	if params.Token == "" {
		return failure(wire.CodeUnauthorized, "token required")
	}
	if ConstantTimeEqual(params.Token, a.cfg.Token) {
		return Result{OK: true, Role: role, ClientID: params.ClientID}
	}
	// A structurally JWT-shaped credential may be a minted short-lived token.
	if strings.Count(params.Token, ".") == 2 && a.verifier != nil {
		sub, err := a.verifier.Verify(params.Token)
		if err == nil {
			clientID := params.ClientID
			if clientID == "" {
				clientID = sub
			}
			return Result{OK: true, Role: role, ClientID: clientID}
		}
	}
	return failure(wire.CodeUnauthorized, "invalid token")
}

func (a *Authenticator) authenticatePassword(params ConnectParams, role Role, nonce string) Result {
	if a.cfg.PasswordHash != "" {
		if params.Password == "" {
			return failure(wire.CodeUnauthorized, "password required")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(a.cfg.PasswordHash), []byte(params.Password)); err != nil {
			return failure(wire.CodeUnauthorized, "invalid password")
		}
		return Result{OK: true, Role: role, ClientID: params.ClientID}
	}

	if a.cfg.Password == "" {
		return failure(wire.CodeInternal, "password auth not configured")
	}
	if params.Password == "" {
		return failure(wire.CodeUnauthorized, "password required")
	}
	if ConstantTimeEqual(params.Password, a.cfg.Password) {
		return Result{OK: true, Role: role, ClientID: params.ClientID}
	}
	if nonce != "" && ConstantTimeEqual(params.Password, ChallengeResponse(nonce, a.cfg.Password)) {
		return Result{OK: true, Role: role, ClientID: params.ClientID}
	}
	return failure(wire.CodeUnauthorized, "invalid password")
}
