// Package memory provides the default, transient implementation of the
// ride repository. Rides live in a map keyed by ID with secondary indices
// by status and participant, maintained on every write.
package memory

import (
	"context"
	"sort"
	"sync"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// entry wraps a stored ride with its own mutex so that check-then-act
// sequences on one ride serialize without blocking other rides.
type entry struct {
	mu   sync.Mutex
	ride *domain.Ride
}

// RideRepository is an in-memory implementation of repository.RideRepository.
type RideRepository struct {
	mu          sync.RWMutex
	rides       map[string]*entry
	byStatus    map[domain.RideStatus]map[string]struct{}
	byDriver    map[string]map[string]struct{}
	byPassenger map[string]map[string]struct{}
}

// NewRideRepository creates an empty in-memory ride repository.
func NewRideRepository() *RideRepository {
	return &RideRepository{
		rides:       make(map[string]*entry),
		byStatus:    make(map[domain.RideStatus]map[string]struct{}),
		byDriver:    make(map[string]map[string]struct{}),
		byPassenger: make(map[string]map[string]struct{}),
	}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rides[ride.ID]; exists {
		return repository.ErrAlreadyExists
	}

	stored := ride.Clone()
	r.rides[ride.ID] = &entry{ride: stored}
	r.indexLocked(stored)
	return nil
}

// GetByID retrieves a copy of the ride.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ride.Clone(), nil
}

// Mutate applies fn to the stored ride while holding its entry lock, so the
// callback's precondition checks and writes form one atomic step. Indices
// are refreshed after a successful mutation.
func (r *RideRepository) Mutate(ctx context.Context, id string, fn func(*domain.Ride) error) (*domain.Ride, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated := e.ride.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.unindexLocked(e.ride)
	e.ride = updated
	r.indexLocked(updated)
	r.mu.Unlock()

	return updated.Clone(), nil
}

// List retrieves rides matching the filter, newest first, plus the total
// match count before paging.
func (r *RideRepository) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Ride, int, error) {
	matched := make([]*domain.Ride, 0)
	for _, ride := range r.snapshot() {
		if filter.Status != "" && ride.Status != filter.Status {
			continue
		}
		if filter.DriverID != "" && (ride.Driver == nil || ride.Driver.ID != filter.DriverID) {
			continue
		}
		if filter.PassengerID != "" && ride.Passenger.ID != filter.PassengerID {
			continue
		}
		if !filter.Since.IsZero() && ride.RequestedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ride.RequestedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, ride)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RequestedAt.After(matched[j].RequestedAt)
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*domain.Ride{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// ListByStatus retrieves every ride in the given status.
func (r *RideRepository) ListByStatus(ctx context.Context, status domain.RideStatus) ([]*domain.Ride, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byStatus[status]))
	for id := range r.byStatus[status] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	rides := make([]*domain.Ride, 0, len(ids))
	for _, id := range ids {
		ride, err := r.GetByID(ctx, id)
		if err != nil {
			continue // removed between index read and lookup
		}
		// Re-check: the ride may have moved on since the index read.
		if ride.Status == status {
			rides = append(rides, ride)
		}
	}
	sort.Slice(rides, func(i, j int) bool {
		return rides[i].RequestedAt.Before(rides[j].RequestedAt)
	})
	return rides, nil
}

// ActiveByDriver returns the driver's accepted or in-progress ride, or
// (nil, nil) when the driver has none.
func (r *RideRepository) ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byDriver[driverID]))
	for id := range r.byDriver[driverID] {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		ride, err := r.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if ride.Status == domain.RideStatusAccepted || ride.Status == domain.RideStatusInProgress {
			return ride, nil
		}
	}
	return nil, nil
}

// lookup finds the entry for id without touching its lock.
func (r *RideRepository) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.rides[id]
	if !exists {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

// snapshot returns copies of every stored ride.
func (r *RideRepository) snapshot() []*domain.Ride {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.rides))
	for _, e := range r.rides {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	rides := make([]*domain.Ride, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rides = append(rides, e.ride.Clone())
		e.mu.Unlock()
	}
	return rides
}

func (r *RideRepository) indexLocked(ride *domain.Ride) {
	addIndex(r.byStatus, ride.Status, ride.ID)
	addIndex(r.byPassenger, ride.Passenger.ID, ride.ID)
	if ride.Driver != nil {
		addIndex(r.byDriver, ride.Driver.ID, ride.ID)
	}
}

func (r *RideRepository) unindexLocked(ride *domain.Ride) {
	removeIndex(r.byStatus, ride.Status, ride.ID)
	removeIndex(r.byPassenger, ride.Passenger.ID, ride.ID)
	if ride.Driver != nil {
		removeIndex(r.byDriver, ride.Driver.ID, ride.ID)
	}
}

func addIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeIndex[K comparable](idx map[K]map[string]struct{}, key K, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

var _ repository.RideRepository = (*RideRepository)(nil)
