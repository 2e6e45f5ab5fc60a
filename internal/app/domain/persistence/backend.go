// Package persistence stores itinerary state across an ordered list of
// storage tiers: a structured database, a flat key-value store and a
// session-scoped backup store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

// Record is the unit every backend stores. Payload is the JSON encoded
// itinerary state.
type Record struct {
	Key       string    `json:"key"`
	OwnerID   string    `json:"owner_id"`
	Version   int64     `json:"version"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Record) clone() Record {
	r.Payload = append([]byte(nil), r.Payload...)
	return r
}

// Backend is one storage tier. Get returns models.ErrNotFound for a missing
// key; Delete of a missing key is not an error. Put never replaces a record
// with a higher version and reports the refusal as models.ErrConflict.
type Backend interface {
	Name() string
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
}

// OwnerIndex is implemented by backends that can look records up by owner.
type OwnerIndex interface {
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
}

func staleWrite(rec Record, stored int64) error {
	return fmt.Errorf("record %s v%d is older than stored v%d: %w", rec.Key, rec.Version, stored, models.ErrConflict)
}
