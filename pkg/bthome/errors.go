package bthome

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned by the frame pipeline. Every decode failure wraps
// exactly one of them, so callers can match with errors.Is.
var (
	// ErrNotApplicable means the record is not a BTHome frame for us
	// (unknown service UUID or unknown device address).
	ErrNotApplicable = errors.New("not a BTHome record")

	// ErrMalformedHeader covers a missing reserved byte or an unexpected record length.
	ErrMalformedHeader = errors.New("malformed BTHome header")

	// ErrDuplicate is returned when the frame counter equals the last accepted one.
	ErrDuplicate = errors.New("duplicate frame counter")

	// ErrAuthentication is returned when the CCM tag does not verify.
	ErrAuthentication = errors.New("authenticated decryption failed")

	// ErrLayoutMismatch is returned when the payload length matches no known layout.
	ErrLayoutMismatch = errors.New("unknown payload layout")
)

// Outcome labels used for logging and the bthome.frames counter.
const (
	OutcomeDecoded        = "decoded"
	OutcomeNotApplicable  = "not_applicable"
	OutcomeMalformed      = "malformed_header"
	OutcomeDuplicate      = "duplicate"
	OutcomeAuthFailed     = "auth_failed"
	OutcomeLayoutMismatch = "layout_mismatch"
	OutcomeError          = "error"
)

// OutcomeOf maps a pipeline error to its outcome label. A nil error is OutcomeDecoded.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeDecoded
	case errors.Is(err, ErrNotApplicable):
		return OutcomeNotApplicable
	case errors.Is(err, ErrMalformedHeader):
		return OutcomeMalformed
	case errors.Is(err, ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, ErrAuthentication):
		return OutcomeAuthFailed
	case errors.Is(err, ErrLayoutMismatch):
		return OutcomeLayoutMismatch
	default:
		return OutcomeError
	}
}
