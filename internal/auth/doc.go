// Package auth implements connect-time authentication and per-role method
// authorization for gateway client connections.
//
// Three modes are supported: none, token, and password. Token mode
// compares a shared secret in constant time and additionally accepts an
// HS256 JWT signed with that secret. Password mode compares either a
// plaintext secret, a bcrypt hash, or the sha256 challenge response over
// the connection nonce.
package auth
