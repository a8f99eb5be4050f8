package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies venue errors so retry and abort policy is decided on
// structure, not on message substrings.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindRateLimited
	KindRejected
	KindInsufficientMargin
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindInsufficientMargin:
		return "insufficient_margin"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a classified venue error.
type Error struct {
	Kind ErrorKind
	Code int // venue-specific error code, 0 if none
	Msg  string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s (code %d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Msg)
}

// NewError builds a classified error.
func NewError(kind ErrorKind, code int, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// IsRateLimited reports whether err (anywhere in its chain) is a rate-limit
// signal from the venue.
func IsRateLimited(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRateLimited
}

// IsRejected reports whether err is a terminal venue rejection.
func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && (e.Kind == KindRejected || e.Kind == KindInsufficientMargin)
}
