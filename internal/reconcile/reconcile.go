// Package reconcile diffs a playlist's stored items against the source platform's current list.
//
// [Reconcile] is pure: it performs no I/O and never mutates its inputs. Items are matched by
// source video ID only; every stored or fetched ID lands in exactly one of the result sets.
package reconcile

import (
	"sort"

	"github.com/desertthunder/ytsync/internal/models"
)

// Update is a stored item whose metadata or position differs from the source, or that reappeared.
type Update struct {
	Item            *models.PlaylistItem // copy with the fresh source data applied
	Previous        models.SourceItem    // cached metadata before the update
	MetadataChanged bool
	Moved           bool
	Restored        bool // item was flagged removed and is served again
}

// Result holds four disjoint sets keyed by source video ID.
type Result struct {
	Inserts    []*models.PlaylistItem // in source, not stored; not yet persisted
	Updates    []Update
	Removals   []*models.PlaylistItem // copies flagged removed
	Unchanged  []*models.PlaylistItem
	Duplicates []string // source IDs seen more than once; the first occurrence wins
}

// Stats summarizes a [Result].
type Stats struct {
	Inserted  int
	Updated   int
	Removed   int
	Unchanged int
}

// Reconcile computes the difference between stored items and freshly fetched source items.
//
// Stored items already flagged removed that are still absent count as unchanged.
func Reconcile(playlist *models.Playlist, stored []*models.PlaylistItem, source []models.SourceItem) Result {
	var res Result

	storedByID := make(map[string]*models.PlaylistItem, len(stored))
	for _, item := range stored {
		if _, seen := storedByID[item.SourceVideoID()]; !seen {
			storedByID[item.SourceVideoID()] = item
		}
	}

	seen := make(map[string]struct{}, len(source))
	for _, src := range source {
		if _, dup := seen[src.ID]; dup {
			res.Duplicates = append(res.Duplicates, src.ID)
			continue
		}
		seen[src.ID] = struct{}{}

		existing, ok := storedByID[src.ID]
		if !ok {
			res.Inserts = append(res.Inserts, models.NewPlaylistItem(playlist.ID(), src))
			continue
		}

		metadataChanged := !existing.MetadataEqual(src)
		moved := existing.Position() != src.Position
		restored := existing.RemovedFromSource()

		if !metadataChanged && !moved && !restored {
			res.Unchanged = append(res.Unchanged, existing.Clone())
			continue
		}

		updated := existing.Clone()
		updated.Apply(src)
		res.Updates = append(res.Updates, Update{
			Item:            updated,
			Previous:        existing.Snapshot(),
			MetadataChanged: metadataChanged,
			Moved:           moved,
			Restored:        restored,
		})
	}

	for id, item := range storedByID {
		if _, present := seen[id]; present {
			continue
		}
		if item.RemovedFromSource() {
			res.Unchanged = append(res.Unchanged, item.Clone())
			continue
		}
		removed := item.Clone()
		removed.MarkRemoved()
		res.Removals = append(res.Removals, removed)
	}

	sortItems(res.Removals)
	sortItems(res.Unchanged)
	return res
}

// Stats counts each set.
func (r Result) Stats() Stats {
	return Stats{
		Inserted:  len(r.Inserts),
		Updated:   len(r.Updates),
		Removed:   len(r.Removals),
		Unchanged: len(r.Unchanged),
	}
}

// HasChanges reports whether anything must be written.
func (r Result) HasChanges() bool {
	return len(r.Inserts) > 0 || len(r.Updates) > 0 || len(r.Removals) > 0
}

// UpdatedItems returns the item of every update.
func (r Result) UpdatedItems() []*models.PlaylistItem {
	items := make([]*models.PlaylistItem, len(r.Updates))
	for i, u := range r.Updates {
		items[i] = u.Item
	}
	return items
}

// Current returns the items the source still serves, in source order.
func (r Result) Current() []*models.PlaylistItem {
	current := make([]*models.PlaylistItem, 0, len(r.Inserts)+len(r.Updates)+len(r.Unchanged))
	current = append(current, r.Inserts...)
	current = append(current, r.UpdatedItems()...)
	for _, item := range r.Unchanged {
		if !item.RemovedFromSource() {
			current = append(current, item)
		}
	}
	sortItems(current)
	return current
}

// sortItems orders by position, then source video ID.
func sortItems(items []*models.PlaylistItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position() != items[j].Position() {
			return items[i].Position() < items[j].Position()
		}
		return items[i].SourceVideoID() < items[j].SourceVideoID()
	})
}
