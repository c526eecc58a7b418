// Package wire defines the gateway's framed JSON protocol: request,
// response, and event frames exchanged with local clients over a
// persistent connection, plus the closed error-code taxonomy.
package wire
