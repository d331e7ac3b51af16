package medication

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/carelink/pillwise/internal/domain/schedule"
)

// MemoryStore is an in-process Store used for local runs and tests
type MemoryStore struct {
	mu        sync.RWMutex
	meds      map[string]Medication
	schedules map[string]schedule.Schedule
	seq       int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meds:      make(map[string]Medication),
		schedules: make(map[string]schedule.Schedule),
	}
}

func (s *MemoryStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

// AddMedication validates and stores a medication, assigning an id when empty
func (s *MemoryStore) AddMedication(m Medication) (Medication, error) {
	if err := Validate(&m); err != nil {
		return Medication{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID("med")
	}
	s.meds[m.ID] = m
	return m, nil
}

// AddSchedule validates and stores a schedule, assigning an id when empty
func (s *MemoryStore) AddSchedule(sc schedule.Schedule) (schedule.Schedule, error) {
	if err := schedule.Validate(&sc); err != nil {
		return schedule.Schedule{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == "" {
		sc.ID = s.nextID("sched")
	}
	sc.Times = sc.SortedTimes()
	s.schedules[sc.ID] = sc
	return sc, nil
}

func (s *MemoryStore) CreateMedication(_ context.Context, m *Medication) error {
	if m.AddedAt.IsZero() {
		m.AddedAt = time.Now().UTC()
	}
	stored, err := s.AddMedication(*m)
	if err != nil {
		return err
	}
	*m = stored
	return nil
}

func (s *MemoryStore) CreateSchedule(_ context.Context, sc *schedule.Schedule) error {
	stored, err := s.AddSchedule(*sc)
	if err != nil {
		return err
	}
	*sc = stored
	return nil
}

func (s *MemoryStore) ListMedicationsByUser(_ context.Context, userID string) ([]Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Medication
	for _, m := range s.meds {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.After(out[j].AddedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListSchedulesByUser(_ context.Context, userID string) ([]schedule.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.Schedule
	for _, sc := range s.schedules {
		if sc.UserID == userID && sc.IsActive {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateMedicationQuantity(_ context.Context, id string, qty int) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meds[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.CurrentQuantity = qty
	s.meds[id] = m
	return nil
}
