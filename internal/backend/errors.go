package backend

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotAuthenticated short-circuits a call that requires session auth when
// no session exists. No network round-trip happens in that case.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a backend failure normalized from an HTTP response.
// Code carries the Postgres/PostgREST error code when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.StatusCode, e.Message)
}

// IsMissingResource reports whether an error means the called table or
// procedure does not exist in the current backend schema generation. Only
// this class of error advances the schema fallback chain; anything else is
// terminal for the current pull/push.
func IsMissingResource(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case "42P01", // undefined_table
		"42883",    // undefined_function
		"PGRST202", // function not found in schema cache
		"PGRST205": // table not found in schema cache
		return true
	}
	if apiErr.StatusCode == 404 {
		return true
	}
	return strings.Contains(apiErr.Message, "does not exist")
}

// IsConstraintMismatch reports whether an upsert was rejected because the
// declared conflict target has no matching unique or exclusion constraint.
// The push retries once without a conflict target in that case.
func IsConstraintMismatch(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == "42P10" { // invalid_column_reference (ON CONFLICT target)
		return true
	}
	return strings.Contains(apiErr.Message, "no unique or exclusion constraint")
}

// IsAuthFailure reports whether the backend rejected the session credential.
// The session provider refreshes and retries once on this class.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 401 || apiErr.Code == "PGRST301"
}
