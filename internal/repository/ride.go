package repository

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// ListFilter narrows and pages a ride listing. Zero values mean "no filter".
type ListFilter struct {
	Status      domain.RideStatus
	DriverID    string
	PassengerID string
	Since       time.Time
	Until       time.Time
	Limit       int
	Offset      int
}

// RideRepository defines the persistence operations for rides.
//
// Mutate is the concurrency contract of the whole engine: the callback runs
// with exclusive access to the stored ride, so a precondition check and the
// mutation it guards are atomic. Concurrent mutations of different rides
// proceed in parallel; concurrent mutations of the same ride serialize.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// List retrieves rides matching the filter, newest first, along with
	// the total match count before paging.
	List(ctx context.Context, filter ListFilter) ([]*domain.Ride, int, error)

	// ListByStatus retrieves every ride in the given status.
	ListByStatus(ctx context.Context, status domain.RideStatus) ([]*domain.Ride, error)

	// ActiveByDriver returns the driver's accepted or in-progress ride,
	// or (nil, nil) when the driver has none.
	ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error)

	// Mutate applies fn to the stored ride under the per-ride exclusion
	// described above and returns the updated ride. An error from fn
	// aborts the mutation and is returned unchanged.
	Mutate(ctx context.Context, id string, fn func(*domain.Ride) error) (*domain.Ride, error)
}
