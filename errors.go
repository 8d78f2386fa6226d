package hxtxn

import (
	"errors"
	"fmt"
)

// Sentinel errors for session operations.
var (
	ErrNotFound          = errors.New("hxtxn: resource not found")
	ErrDecode            = errors.New("hxtxn: malformed instruction envelope")
	ErrConnectionDropped = errors.New("hxtxn: host connection dropped")
	ErrSessionClosed     = errors.New("hxtxn: session is closed")
	ErrSubmitInFlight    = errors.New("hxtxn: submission already in flight")
	ErrStaleBatch        = errors.New("hxtxn: batch is no longer current")
	ErrTransport         = errors.New("hxtxn: host round trip failed")
	ErrNotInteractive    = errors.New("hxtxn: element does not take input")
	ErrInvalidChoice     = errors.New("hxtxn: unknown submit choice")

	ErrDecryptFailed    = errors.New("hxtxn: token decryption failed")
	ErrSignatureInvalid = errors.New("hxtxn: signature verification failed")
	ErrInvalidFormat    = errors.New("hxtxn: invalid token format")
)

// DecodeError is a batch-fatal decoding failure. It matches ErrDecode.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("hxtxn: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// TransportError is a failed host round trip. It matches ErrTransport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hxtxn: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// IsNotFound checks if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDecryptionError checks if err is a decryption or signature error.
func IsDecryptionError(err error) bool {
	return errors.Is(err, ErrDecryptFailed) || errors.Is(err, ErrSignatureInvalid)
}

// IsDecodeError checks if err is a batch decoding failure.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecode)
}

// IsTransportError checks if err is a failed host round trip.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
