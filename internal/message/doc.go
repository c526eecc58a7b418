// Package message defines the normalized message model shared by every
// channel adapter, the access policy engine, and the session router.
//
// Adapters translate their platform-native payloads into IncomingMessage
// exactly once per inbound event; replies travel back as OutgoingMessage.
// Neither value is mutated after construction.
package message
