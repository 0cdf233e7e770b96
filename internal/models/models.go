// package models defines the data model for the playlist mirroring engine
package models

import (
	"context"
	"time"
)

// Model defines the base interface for all persistent models.
// Implementations include User, Playlist, PlaylistItem, TrackMatch and SyncOperation.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(ctx context.Context, model T) error                      // Create inserts a new model into the database
	Get(ctx context.Context, id string) (T, error)                  // Get retrieves a model by its ID
	Update(ctx context.Context, model T) error                      // Update modifies an existing model in the database
	Delete(ctx context.Context, id string) error                    // Delete removes a model from the database by its ID
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// base carries the identity and timestamp fields shared by every persistent entity.
type base struct {
	id        string
	sequence  int
	createdAt time.Time
	updatedAt time.Time
}

func newBase() base {
	now := time.Now().UTC()
	return base{createdAt: now, updatedAt: now}
}

func (b *base) ID() string           { return b.id }
func (b *base) Sequence() int        { return b.sequence }
func (b *base) CreatedAt() time.Time { return b.createdAt }
func (b *base) UpdatedAt() time.Time { return b.updatedAt }

// SetID assigns the identifier, normally done by the repository on insert.
func (b *base) SetID(id string) { b.id = id }

// SetSequence assigns the per-table ordinal used for stable ordering.
func (b *base) SetSequence(seq int) { b.sequence = seq }

// SetCreatedAt restores the creation timestamp when scanning from storage.
func (b *base) SetCreatedAt(t time.Time) { b.createdAt = t }

// SetUpdatedAt records the last modification time.
func (b *base) SetUpdatedAt(t time.Time) { b.updatedAt = t }
