package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// NewEvent is the payload for creating a remote event. Start and End are
// local wall-clock times ("2025-12-31T23:00:00") interpreted in TimeZone.
type NewEvent struct {
	Title    string
	Start    string
	End      string
	TimeZone string
	ColorID  int
}

// Gateway creates and deletes events on a remote calendar.
type Gateway interface {
	// CreateEvent creates an event and returns its remote id.
	CreateEvent(ctx context.Context, event NewEvent) (string, error)
	// DeleteEvent removes an event. An event that is already gone is not an error.
	DeleteEvent(ctx context.Context, eventID string) error
}

// AuthError reports a missing, expired or revoked credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("calendar authorization failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError reports a non-2xx response from the calendar service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("calendar api returned %d: %s", e.Status, e.Body)
}

// IsAuthError reports whether err is an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsGone reports whether status means the event no longer exists.
func IsGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
