package errors

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ignorableErrorSubstrings lists transport messages caused by the client going away.
var ignorableErrorSubstrings = []string{
	"context canceled",
	"connection reset by peer",
	"broken pipe",
	"use of closed network connection",
	"client disconnected",
}

// IsIgnorableError reports whether err was caused by the caller side of the
// connection rather than by the upstream account.
func IsIgnorableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	errStr := err.Error()
	for _, s := range ignorableErrorSubstrings {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
