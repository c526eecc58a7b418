// Package ratelimit provides the sliding-window attempt counter that
// guards authentication. Keys are typically client IPs; a key with no
// record or whose window has elapsed is always allowed.
package ratelimit
