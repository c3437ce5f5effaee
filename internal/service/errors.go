package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/payment"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrDownloadLimitReached = errors.New("download limit reached")
	ErrLicenseInactive      = errors.New("license is not active")
	ErrLicenseExpired       = errors.New("license has expired")
	ErrDownloadLocked       = errors.New("download requires a paid unlock or an active license")
	ErrProviderDisabled     = errors.New("payment provider is not configured")

	// Re-exported so handlers only depend on this package for webhook errors.
	ErrSignatureInvalid = payment.ErrSignatureInvalid
	ErrMalformedPayload = payment.ErrMalformedPayload
)

// ValidationError describes input that was rejected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a row changed underneath a conditional update
// or the requested operation does not fit the row's current state.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}
