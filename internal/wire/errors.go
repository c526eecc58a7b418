// ABOUTME: Closed error-code taxonomy for response frames.
// ABOUTME: Each code has a fixed UPPER_SNAKE wire label.

package wire

// ErrorCode identifies a protocol-level failure class in a response frame.
type ErrorCode string

// The closed set of error codes.
const (
	CodeNotLinked      ErrorCode = "NOT_LINKED"
	CodeNotPaired      ErrorCode = "NOT_PAIRED"
	CodeAgentTimeout   ErrorCode = "AGENT_TIMEOUT"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeUnavailable    ErrorCode = "UNAVAILABLE"
	CodeMethodNotFound ErrorCode = "METHOD_NOT_FOUND"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeInternal       ErrorCode = "INTERNAL"
)

// Valid reports whether the code is a member of the closed set.
func (c ErrorCode) Valid() bool {
	switch c {
	case CodeNotLinked, CodeNotPaired, CodeAgentTimeout, CodeInvalidRequest,
		CodeUnavailable, CodeMethodNotFound, CodeUnauthorized, CodeInternal:
		return true
	default:
		return false
	}
}

// ErrorDetail is the error object carried inside a failed response frame.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
