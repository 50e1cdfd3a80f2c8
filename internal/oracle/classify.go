package oracle

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
)

type FailureClass int

const (
	FailureNone FailureClass = iota
	FailureCanceled
	FailureTimeout
	FailureRateLimit
	FailureServer
	FailureClient
	FailureSafety
	FailureAdmission
	FailureMalformed
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureCanceled:
		return "canceled"
	case FailureTimeout:
		return "timeout"
	case FailureRateLimit:
		return "rate_limit"
	case FailureServer:
		return "server"
	case FailureClient:
		return "client"
	case FailureSafety:
		return "safety"
	case FailureAdmission:
		return "admission"
	case FailureMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Transient reports whether retrying the same call may succeed.
func (c FailureClass) Transient() bool {
	return c == FailureTimeout || c == FailureRateLimit || c == FailureServer
}

// statusPattern only matches codes introduced as HTTP statuses, so that
// "failed after 5 retries" is not read as a 5xx.
var statusPattern = regexp.MustCompile(`(?:status code:?|status=|error|http)\s*"?([1-5]\d\d)\b`)

func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	switch {
	case errors.Is(err, ErrSafetyBlocked):
		return FailureSafety
	case errors.Is(err, ErrAdmissionDenied):
		return FailureAdmission
	case errors.Is(err, ErrMalformedReply):
		return FailureMalformed
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == 429:
			return FailureRateLimit
		case code == 408:
			return FailureTimeout
		case code >= 500:
			return FailureServer
		case code >= 400:
			return FailureClient
		}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted") {
		return FailureRateLimit
	}
	return FailureServer
}
