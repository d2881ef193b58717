package ocr

import (
	"context"
	"errors"
	"strings"
)

type ErrorType string

const (
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
)

var ErrBadResponse = errors.New("malformed ocr response")

// ClassifyError decides whether a recognition failure is worth retrying.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrBadResponse) {
		return ErrorPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "429"), strings.Contains(e, "rate limit"):
		return ErrorRate
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, " 502"), strings.Contains(e, " 503"), strings.Contains(e, " 504"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

// Retryable is true for rate and transient failures.
func Retryable(err error) bool {
	t := ClassifyError(err)
	return t == ErrorRate || t == ErrorTransient
}
