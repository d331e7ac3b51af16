package dose

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Override is the persisted status of one dose, keyed by the dose key
type Override struct {
	Status  Status     `json:"status"`
	TakenAt *time.Time `json:"takenAt,omitempty"`
}

// OverrideRecord is the full persisted form of an override
type OverrideRecord struct {
	Key           string     `json:"key"`
	UserID        string     `json:"userId"`
	ScheduleID    string     `json:"scheduleId"`
	MedicationID  string     `json:"medicationId"`
	ScheduledTime time.Time  `json:"scheduledTime"`
	Status        Status     `json:"status"`
	TakenAt       *time.Time `json:"takenAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// OverrideRepository is the override persistence collaborator.
// ListOverridesByUser is a full scan; range filtering happens client side.
type OverrideRepository interface {
	ListOverridesByUser(ctx context.Context, userID string) ([]OverrideRecord, error)
	PutOverride(ctx context.Context, rec OverrideRecord) error
}

// OverrideLookup resolves a dose key to its override, if any
type OverrideLookup interface {
	Lookup(key string) (Override, bool)
}

// MemoryRepository keeps overrides in process memory. It backs local-only
// deployments and tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]OverrideRecord
}

// NewMemoryRepository creates an empty in-memory override repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]OverrideRecord)}
}

// ListOverridesByUser returns a user's overrides ordered by scheduled time
func (r *MemoryRepository) ListOverridesByUser(_ context.Context, userID string) ([]OverrideRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []OverrideRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

// PutOverride inserts or replaces an override
func (r *MemoryRepository) PutOverride(_ context.Context, rec OverrideRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.Key] = rec
	return nil
}
