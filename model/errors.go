package model

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument is returned when caller input violates a precondition
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned for unknown batches or identifiers
	ErrNotFound = errors.New("not found")
	// ErrConflictingIdentifier is returned when an identifier is already owned by another batch
	ErrConflictingIdentifier = errors.New("conflicting identifier")
	// ErrAuthenticationFailed is returned when a webhook signature does not verify
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrMalformedPayload is returned for structurally invalid webhook events
	ErrMalformedPayload = errors.New("malformed payload")
)

// ProviderError reports a wholly or partially failed provider call. The
// batch stays registered with the identifiers that were recorded.
type ProviderError struct {
	BatchID  string
	Total    int
	Recorded int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error for batch %s (%d/%d recorded): %v", e.BatchID, e.Recorded, e.Total, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
