// Package store persists sessions and their transcripts.
//
// Sessions are keyed by the routing session key, so the same conversation
// always lands on the same row regardless of which adapter delivered it.
package store
