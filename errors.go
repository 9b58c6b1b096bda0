package mcp

import (
	"errors"
	"fmt"
)

// ErrTransportClosed is returned by Send after a transport has been shut
// down, and fails outbound calls still pending when the session ends.
var ErrTransportClosed = errors.New("transport closed")

// ErrTimeout fails an outbound call whose response did not arrive within the
// session's request timeout. The session stays alive; the caller decides
// whether to retry.
var ErrTimeout = errors.New("request timed out")

// ParseError reports bytes that could not be decoded into a well-formed
// JSON-RPC message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}
