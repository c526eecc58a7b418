// Package gateway assembles the relay server: the websocket endpoint
// speaking the framed req/res/event protocol, the channel adapter
// registry, the inbound message pipeline, and the session store. One
// Gateway instance owns the full lifecycle from listener setup through
// graceful shutdown.
package gateway
