// Package dispatch validates incoming frames and routes them to registered
// method handlers.
//
// The pipeline: size gate, frame-kind check, request parse, the
// pre-authentication connect-only rule, the health bypass, role
// authorization, registry lookup, handler invocation. A handler writes at
// most one response frame and any number of event frames.
package dispatch
