package tasks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/ytsync/internal/matcher"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// OutcomeKind is the single bucket an item lands in.
type OutcomeKind int

const (
	OutcomeMatched OutcomeKind = iota
	OutcomeUnmatched
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMatched:
		return "matched"
	case OutcomeUnmatched:
		return "unmatched"
	default:
		return "failed"
	}
}

// ItemOutcome is the result of processing one item.
type ItemOutcome struct {
	ItemID   string
	VideoID  string
	Title    string
	Position int
	Kind     OutcomeKind
	Match    *models.TrackMatch // active match after processing, nil when unmatched
	Searched bool               // the matcher ran for this item
	Applied  bool               // a destination write was issued
	Err      error              // *MatchError or *ApplyError for unmatched and failed items
}

type job struct {
	item       *models.PlaylistItem
	existing   *models.TrackMatch
	needsMatch bool
	state      *destinationState
}

// destinationState is the destination track order read once at the start of an operation.
type destinationState struct {
	uris []string
}

// holds reports whether uri sits at position, or anywhere when the match was already applied there.
func (s *destinationState) holds(m *models.TrackMatch, position int) bool {
	uri := m.TrackURI()
	if position < len(s.uris) && s.uris[position] == uri {
		return true
	}
	return m.IsAppliedAt(position) && slices.Contains(s.uris, uri)
}

// process runs jobs on a bounded worker pool. Each job yields exactly one outcome unless the
// operation is aborted or canceled first; the returned cause is then non-nil.
func (r *syncRun) process(ctx context.Context, jobs []job) ([]ItemOutcome, error) {
	wctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	workers := min(r.cfg.Workers, max(len(jobs), 1))
	queue := make(chan job, len(jobs))
	results := make(chan ItemOutcome, len(jobs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if wctx.Err() != nil {
					continue
				}
				out, err := r.processItem(wctx, j)
				if err != nil {
					abort(err)
					continue
				}
				results <- out
			}
		}()
	}

	go func() {
		for _, j := range jobs {
			queue <- j
		}
		close(queue)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]ItemOutcome, 0, len(jobs))
	for out := range results {
		outcomes = append(outcomes, out)
		sendProgress(r.req.Progress, itemUpdate(len(outcomes), len(jobs), out))
	}

	slices.SortFunc(outcomes, func(a, b ItemOutcome) int { return a.Position - b.Position })

	if ctx.Err() != nil {
		return outcomes, context.Cause(ctx)
	}
	if cause := context.Cause(wctx); cause != nil {
		return outcomes, cause
	}
	return outcomes, nil
}

// processItem matches and applies one item. A non-nil error aborts the operation; the item then
// has no outcome. Item-level failures are returned inside the outcome.
func (r *syncRun) processItem(ctx context.Context, j job) (ItemOutcome, error) {
	item := j.item
	logger := r.logger.With("item", item.ID(), "video", item.SourceVideoID())

	out := ItemOutcome{
		ItemID:   item.ID(),
		VideoID:  item.SourceVideoID(),
		Title:    item.Title(),
		Position: item.Position(),
		Match:    j.existing,
	}

	ictx, cancel := context.WithTimeout(ctx, r.cfg.ItemTimeout)
	defer cancel()

	fail := func(err error) (ItemOutcome, error) {
		if ctx.Err() != nil {
			return out, context.Cause(ctx)
		}
		if fatal(err) {
			return out, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = wrapTimeout(err, r.cfg.ItemTimeout)
		}
		out.Kind = OutcomeFailed
		out.Err = err
		logger.Warn("item failed", "error", err)
		return out, nil
	}

	if j.needsMatch {
		match, err := r.match(ictx, j)
		if err != nil {
			var matchErr *MatchError
			if errors.As(err, &matchErr) && matchErr.Unmatched() {
				out.Kind = OutcomeUnmatched
				out.Err = err
				out.Searched = true
				logger.Debug("no acceptable match", "title", item.Title())
				return out, nil
			}
			return fail(err)
		}
		out.Match = match
		out.Searched = true
	}

	if out.Match == nil {
		out.Kind = OutcomeUnmatched
		out.Err = &MatchError{ItemID: item.ID(), Err: matcher.ErrNoMatch}
		return out, nil
	}

	applied, err := r.apply(ictx, j, out.Match)
	if err != nil {
		return fail(err)
	}
	out.Applied = applied
	out.Kind = OutcomeMatched
	return out, nil
}

// match runs the matcher and persists a new active match when the selection changed.
// The existing match is returned untouched when nothing better is found.
func (r *syncRun) match(ctx context.Context, j job) (*models.TrackMatch, error) {
	item := j.item
	src := item.Snapshot()

	var candidates []models.Candidate
	err := r.callDestination(ctx, func(ctx context.Context) error {
		var err error
		candidates, err = r.dest.SearchCandidates(ctx, matcher.BuildQuery(src))
		return err
	})
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		return nil, &MatchError{ItemID: item.ID(), Err: err}
	}

	res, err := r.matcher.FindBestMatch(src, candidates)
	if errors.Is(err, matcher.ErrNoMatch) {
		if j.existing != nil {
			return j.existing, nil
		}
		return nil, &MatchError{ItemID: item.ID(), Err: err}
	}
	if err != nil {
		return nil, &MatchError{ItemID: item.ID(), Err: err}
	}

	if j.existing != nil && j.existing.TrackID() == res.Candidate.ID && j.existing.Method() == res.Method {
		return j.existing, nil
	}

	m := models.NewTrackMatch(item.ID(), res.Candidate.ID, res.Candidate.URI, res.Confidence, res.Method)
	m.SetMatchedAt(r.now().UTC())
	m.SetMetadata(res.Metadata())
	if err := r.store.Matches.RecordAndActivate(ctx, m); err != nil {
		return nil, &ApplyError{ItemID: item.ID(), TrackURI: m.TrackURI(), Err: fmt.Errorf("persist match: %w", err)}
	}

	r.logger.Debug("matched", "item", item.ID(), "track", m.TrackID(), "confidence", m.Confidence(), "method", m.Method())
	return m, nil
}

// apply writes the match to the destination unless it is already there. Reports whether a write happened.
func (r *syncRun) apply(ctx context.Context, j job, m *models.TrackMatch) (bool, error) {
	position := j.item.Position()

	present := m.IsAppliedAt(position)
	if j.state != nil {
		present = j.state.holds(m, position)
	}

	if !present {
		err := r.callDestination(ctx, func(ctx context.Context) error {
			return r.dest.AddOrUpdateTrack(ctx, r.playlist.DestinationID(), m.TrackURI(), position)
		})
		if err != nil {
			if fatal(err) {
				return false, err
			}
			return false, &ApplyError{ItemID: j.item.ID(), TrackURI: m.TrackURI(), Err: err}
		}
	}

	if !present || !m.IsAppliedAt(position) {
		now := r.now().UTC()
		if err := r.store.Matches.MarkApplied(ctx, m.ID(), position, now); err != nil {
			return !present, &ApplyError{ItemID: j.item.ID(), TrackURI: m.TrackURI(), Err: fmt.Errorf("record applied state: %w", err)}
		}
		m.SetApplied(&position, &now)
	}
	return !present, nil
}

func wrapTimeout(err error, d fmt.Stringer) error {
	return fmt.Errorf("%w after %s: %w", shared.ErrTimeout, d, err)
}
