package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

func newRide(id, passengerID string, requestedAt time.Time) *domain.Ride {
	return &domain.Ride{
		ID:          id,
		Passenger:   domain.Passenger{ID: passengerID, Name: "Passenger " + passengerID},
		Pickup:      domain.Location{Latitude: -8.84, Longitude: 13.29},
		Destination: domain.Location{Latitude: -8.81, Longitude: 13.23},
		Status:      domain.RideStatusPending,
		RequestedAt: requestedAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()

	ride := newRide("r1", "p1", time.Now())
	require.NoError(t, repo.Create(ctx, ride))

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, domain.RideStatusPending, got.Status)

	// The stored copy must be isolated from the caller's ride.
	ride.Status = domain.RideStatusCancelled
	got2, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusPending, got2.Status)
}

func TestCreateDuplicate(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))
	err := repo.Create(ctx, newRide("r1", "p2", time.Now()))
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewRideRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMutate(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))

	updated, err := repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
		r.Status = domain.RideStatusAccepted
		r.Driver = &domain.Driver{ID: "d1", Name: "Driver"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusAccepted, updated.Status)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusAccepted, got.Status)
	require.NotNil(t, got.Driver)
	assert.Equal(t, "d1", got.Driver.ID)
}

func TestMutateErrorLeavesRideUntouched(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))

	boom := errors.New("boom")
	_, err := repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
		r.Status = domain.RideStatusCancelled
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusPending, got.Status)
}

func TestMutateNotFound(t *testing.T) {
	repo := NewRideRepository()

	_, err := repo.Mutate(context.Background(), "missing", func(r *domain.Ride) error {
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMutateSerializesPerRide(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
				r.Rejections = append(r.Rejections, domain.Rejection{DriverID: "d", RejectedAt: time.Now()})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Rejections, workers)
}

func TestListFiltersAndPages(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ride := newRide(fmt.Sprintf("r%d", i), "p1", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Create(ctx, ride))
	}
	_, err := repo.Mutate(ctx, "r0", func(r *domain.Ride) error {
		r.Status = domain.RideStatusCancelled
		return nil
	})
	require.NoError(t, err)

	t.Run("by status", func(t *testing.T) {
		rides, total, err := repo.List(ctx, repository.ListFilter{Status: domain.RideStatusPending})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Len(t, rides, 4)
	})

	t.Run("newest first with paging", func(t *testing.T) {
		rides, total, err := repo.List(ctx, repository.ListFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, rides, 2)
		assert.Equal(t, "r3", rides[0].ID)
		assert.Equal(t, "r2", rides[1].ID)
	})

	t.Run("offset past the end", func(t *testing.T) {
		rides, total, err := repo.List(ctx, repository.ListFilter{Offset: 99})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, rides)
	})

	t.Run("time window", func(t *testing.T) {
		rides, total, err := repo.List(ctx, repository.ListFilter{
			Since: base.Add(1 * time.Hour),
			Until: base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Len(t, rides, 3)
	})
}

func TestListByStatusTracksTransitions(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))
	require.NoError(t, repo.Create(ctx, newRide("r2", "p2", time.Now().Add(time.Second))))

	pending, err := repo.ListByStatus(ctx, domain.RideStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
		r.Status = domain.RideStatusAccepted
		r.Driver = &domain.Driver{ID: "d1"}
		return nil
	})
	require.NoError(t, err)

	pending, err = repo.ListByStatus(ctx, domain.RideStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r2", pending[0].ID)
}

func TestActiveByDriver(t *testing.T) {
	repo := NewRideRepository()
	ctx := context.Background()

	ride, err := repo.ActiveByDriver(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, ride)

	require.NoError(t, repo.Create(ctx, newRide("r1", "p1", time.Now())))
	_, err = repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
		r.Status = domain.RideStatusAccepted
		r.Driver = &domain.Driver{ID: "d1"}
		return nil
	})
	require.NoError(t, err)

	ride, err = repo.ActiveByDriver(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, ride)
	assert.Equal(t, "r1", ride.ID)

	_, err = repo.Mutate(ctx, "r1", func(r *domain.Ride) error {
		r.Status = domain.RideStatusCompleted
		return nil
	})
	require.NoError(t, err)

	ride, err = repo.ActiveByDriver(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, ride)
}
