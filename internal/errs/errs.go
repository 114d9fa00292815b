// Package errs holds the sentinel errors shared by every layer of LockDrop.
// Callers wrap them with fmt.Errorf("...: %w", err) and match with errors.Is,
// so the HTTP layer can map failures to status codes without string checks.
package errs

import (
	"context"
	"errors"
)

var (
	// ErrValidation marks input the caller must fix (bad file, missing password).
	ErrValidation = errors.New("validation failed")

	// ErrHashing means the password hash primitive failed.
	ErrHashing = errors.New("hashing failed")

	// ErrEncryption means sealing bytes or a metadata field failed.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecryption means ciphertext could not be opened with the master key.
	ErrDecryption = errors.New("decryption failed")

	// ErrDuplicateID indicates a catalog row with the same id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotFound indicates the artifact, row or backing object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized covers every token or password failure. The cause is
	// deliberately not distinguished for callers.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when a valid token lacks the admin flag.
	ErrForbidden = errors.New("forbidden")

	// ErrTimeout means a store or catalog call exceeded its deadline.
	ErrTimeout = errors.New("timeout")
)

// ValidationError carries the short machine-readable reason for a rejected
// upload ("extension", "size", "password", ...). It matches ErrValidation.
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrValidation) succeed for any *ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a *ValidationError.
func Invalid(reason, message string) error {
	return &ValidationError{Reason: reason, Message: message}
}

// Reason extracts the validation reason, or "" when err is not a validation error.
func Reason(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// FromContext converts a deadline error into ErrTimeout and leaves everything
// else untouched.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
