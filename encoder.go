package hxtxn

import (
	"errors"

	"github.com/pthm/hxtxn/lib/encoding"
)

// Sealer is an alias for encoding.Sealer for convenience.
type Sealer = encoding.Sealer

// NewSealer creates a new sealer with the given key.
func NewSealer(key []byte) (*Sealer, error) {
	return encoding.NewSealer(key)
}

// wrapEncodingError wraps encoding package errors with hxtxn sentinel errors.
func wrapEncodingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, encoding.ErrInvalidFormat) {
		return ErrInvalidFormat
	}
	if errors.Is(err, encoding.ErrSignatureInvalid) {
		return ErrSignatureInvalid
	}
	if errors.Is(err, encoding.ErrDecryptFailed) {
		return ErrDecryptFailed
	}
	return err
}
