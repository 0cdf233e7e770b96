package tasks

import (
	"errors"
	"fmt"

	"github.com/desertthunder/ytsync/internal/matcher"
	"github.com/desertthunder/ytsync/internal/services"
)

// UnmatchedReason is recorded in the operation error map for items without an acceptable candidate.
const UnmatchedReason = "no acceptable match"

// MatchError is an item-level failure to obtain a match: either the search failed or no
// candidate reached the threshold.
type MatchError struct {
	ItemID string
	Err    error
}

func (e *MatchError) Error() string {
	if errors.Is(e.Err, matcher.ErrNoMatch) {
		return UnmatchedReason
	}
	return fmt.Sprintf("match failed: %v", e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

// Unmatched reports whether the search succeeded but nothing was acceptable.
func (e *MatchError) Unmatched() bool { return errors.Is(e.Err, matcher.ErrNoMatch) }

// ApplyError is an item-level failure to write the matched track or to persist the result.
type ApplyError struct {
	ItemID   string
	TrackURI string
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s failed: %v", e.TrackURI, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// fatal reports whether err must abort the whole operation.
func fatal(err error) bool {
	var destErr *services.DestinationError
	return errors.As(err, &destErr) && destErr.Fatal()
}

// rateLimited reports whether err is a rate limit that survived every retry.
func rateLimited(err error) bool {
	return errors.Is(err, services.ErrDestinationRateLimited)
}
