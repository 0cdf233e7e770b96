package services

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceNotFound    = errors.New("source playlist not found")
	ErrSourcePrivate     = errors.New("source playlist is private")

	ErrDestinationRateLimited = errors.New("destination rate limited")
	ErrDestinationAuthExpired = errors.New("destination authorization expired")
	ErrDestinationNotFound    = errors.New("destination resource not found")
)

// SourceErrorKind classifies source platform failures.
type SourceErrorKind int

const (
	SourceUnavailable SourceErrorKind = iota
	SourceNotFound
	SourcePrivate
)

func (k SourceErrorKind) String() string {
	switch k {
	case SourceNotFound:
		return "not_found"
	case SourcePrivate:
		return "private"
	default:
		return "unavailable"
	}
}

func (k SourceErrorKind) sentinel() error {
	switch k {
	case SourceNotFound:
		return ErrSourceNotFound
	case SourcePrivate:
		return ErrSourcePrivate
	default:
		return ErrSourceUnavailable
	}
}

// SourceError aborts a sync and updates the playlist's source status.
type SourceError struct {
	Kind       SourceErrorKind
	PlaylistID string
	Err        error
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind.sentinel(), e.PlaylistID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == e.Kind.sentinel() }

// SourceStatus maps the failure to the playlist's source status.
func (e *SourceError) SourceStatus() models.SourceStatus {
	switch e.Kind {
	case SourceNotFound:
		return models.SourceDeleted
	case SourcePrivate:
		return models.SourcePrivate
	default:
		return models.SourceUnavailable
	}
}

// DestinationErrorKind classifies destination platform failures.
type DestinationErrorKind int

const (
	DestinationRateLimited DestinationErrorKind = iota
	DestinationAuthExpired
	DestinationNotFound
)

func (k DestinationErrorKind) String() string {
	switch k {
	case DestinationAuthExpired:
		return "auth_expired"
	case DestinationNotFound:
		return "not_found"
	default:
		return "rate_limited"
	}
}

func (k DestinationErrorKind) sentinel() error {
	switch k {
	case DestinationAuthExpired:
		return ErrDestinationAuthExpired
	case DestinationNotFound:
		return ErrDestinationNotFound
	default:
		return ErrDestinationRateLimited
	}
}

// DestinationError is a destination platform failure.
//
// RateLimited is retried with backoff; AuthExpired and NotFound abort the operation.
type DestinationError struct {
	Kind       DestinationErrorKind
	RetryAfter time.Duration // zero when the platform gave no hint
	Err        error
}

func (e *DestinationError) Error() string {
	msg := e.Kind.sentinel().Error()
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DestinationError) Unwrap() error { return e.Err }

func (e *DestinationError) Is(target error) bool { return target == e.Kind.sentinel() }

// Fatal reports whether the failure must abort the whole operation.
func (e *DestinationError) Fatal() bool {
	return e.Kind == DestinationAuthExpired || e.Kind == DestinationNotFound
}

// StatusError is an HTTP failure that maps to no platform error kind.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// sourceErrorFromStatus maps a proxy response status to a [*SourceError].
func sourceErrorFromStatus(playlistID string, status int, message string) error {
	kind := SourceUnavailable
	switch status {
	case http.StatusNotFound, http.StatusGone:
		kind = SourceNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = SourcePrivate
	}
	return &SourceError{Kind: kind, PlaylistID: playlistID, Err: &StatusError{StatusCode: status, Message: message}}
}

// destinationErrorFromResponse maps a failed Spotify response to a [*DestinationError] or [*StatusError].
func destinationErrorFromResponse(resp *http.Response, message string) error {
	cause := &StatusError{StatusCode: resp.StatusCode, Message: message}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &DestinationError{Kind: DestinationRateLimited, RetryAfter: retryAfter(resp.Header), Err: cause}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &DestinationError{Kind: DestinationAuthExpired, Err: cause}
	case http.StatusNotFound:
		return &DestinationError{Kind: DestinationNotFound, Err: cause}
	}
	return cause
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
