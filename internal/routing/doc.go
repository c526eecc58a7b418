// Package routing derives stable session identities from inbound messages
// and resolves which agent should own a given channel's conversations.
package routing
