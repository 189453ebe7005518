// Package lverr defines the sentinel error codes surfaced to levelrpc
// callers, grounded on the teacher pack's errdefs package (a small sentinel
// + Is* helper package built on github.com/pkg/errors).
package lverr

import "github.com/pkg/errors"

var (
	// ErrDatabaseNotOpen is returned for an operation on a closed database.
	ErrDatabaseNotOpen = errors.New("LEVEL_DATABASE_NOT_OPEN")
	// ErrConnectionLost is returned when the transport disconnected and
	// retry was not enabled.
	ErrConnectionLost = errors.New("LEVEL_CONNECTION_LOST")
	// ErrNotSupported is returned when reopening a database after close.
	ErrNotSupported = errors.New("LEVEL_NOT_SUPPORTED")
	// ErrEncodingNotSupported is returned when a forward target lacks a
	// byte-buffer key/value encoding.
	ErrEncodingNotSupported = errors.New("LEVEL_ENCODING_NOT_SUPPORTED")
)

// IsDatabaseNotOpen reports whether err unwraps to ErrDatabaseNotOpen.
func IsDatabaseNotOpen(err error) bool { return errors.Is(err, ErrDatabaseNotOpen) }

// IsConnectionLost reports whether err unwraps to ErrConnectionLost.
func IsConnectionLost(err error) bool { return errors.Is(err, ErrConnectionLost) }

// IsNotSupported reports whether err unwraps to ErrNotSupported.
func IsNotSupported(err error) bool { return errors.Is(err, ErrNotSupported) }

// IsEncodingNotSupported reports whether err unwraps to ErrEncodingNotSupported.
func IsEncodingNotSupported(err error) bool { return errors.Is(err, ErrEncodingNotSupported) }

// OpError wraps a host-returned operation error code (a short string from
// the reply frame's error field) so callers can distinguish it from the
// fixed protocol-level sentinels above.
type OpError struct {
	Code string
}

func (e *OpError) Error() string { return e.Code }

// NewOpError wraps a non-empty host error code. Empty codes are not errors.
func NewOpError(code string) error {
	if code == "" {
		return nil
	}
	return &OpError{Code: code}
}

// FromCode turns a reply frame's error code back into a Go error, mapping
// the fixed protocol sentinels back to their canonical values (so
// errors.Is/IsConnectionLost etc. still work on a decoded reply) and
// wrapping anything else as an OpError.
func FromCode(code string) error {
	switch code {
	case "":
		return nil
	case ErrDatabaseNotOpen.Error():
		return ErrDatabaseNotOpen
	case ErrConnectionLost.Error():
		return ErrConnectionLost
	case ErrNotSupported.Error():
		return ErrNotSupported
	case ErrEncodingNotSupported.Error():
		return ErrEncodingNotSupported
	default:
		return &OpError{Code: code}
	}
}
