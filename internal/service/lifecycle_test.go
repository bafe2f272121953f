package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
	"dispatch/internal/repository/memory"
)

// recordingNotifier captures every notification for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	target string // "user" or "role"
	role   domain.Role
	userID string
	event  any
}

func (n *recordingNotifier) NotifyUser(role domain.Role, userID string, event any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{target: "user", role: role, userID: userID, event: event})
}

func (n *recordingNotifier) NotifyRole(role domain.Role, event any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{target: "role", role: role, event: event})
}

func (n *recordingNotifier) recorded() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification, len(n.calls))
	copy(out, n.calls)
	return out
}

func newTestLifecycle(t *testing.T) (*RideLifecycle, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	l := NewRideLifecycle(memory.NewRideRepository(), notifier, nil, Settings{}, zerolog.Nop())
	return l, notifier
}

func validCreateRequest() CreateRideRequest {
	return CreateRideRequest{
		Passenger:           domain.Passenger{ID: "p1", Name: "Ana"},
		Pickup:              domain.Location{Latitude: -8.84, Longitude: 13.29, Address: "Rua A"},
		Destination:         domain.Location{Latitude: -8.81, Longitude: 13.23, Address: "Rua B"},
		EstimatedFare:       1500,
		EstimatedDistanceKm: 7.2,
		EstimatedTimeMin:    18,
	}
}

func mustCreate(t *testing.T, l *RideLifecycle) *domain.Ride {
	t.Helper()
	ride, err := l.CreateRide(context.Background(), validCreateRequest())
	require.NoError(t, err)
	return ride
}

func TestCreateRide(t *testing.T) {
	l, notifier := newTestLifecycle(t)

	ride, err := l.CreateRide(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, ride.ID)
	assert.Equal(t, domain.RideStatusPending, ride.Status)
	assert.Equal(t, domain.PaymentMethodCash, ride.PaymentMethod)
	assert.Nil(t, ride.Driver)
	assert.False(t, ride.RequestedAt.IsZero())

	calls := notifier.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "role", calls[0].target)
	assert.Equal(t, domain.RoleDriver, calls[0].role)
	event, ok := calls[0].event.(NewRideRequestEvent)
	require.True(t, ok)
	assert.Equal(t, EventNewRideRequest, event.Type)
	assert.Equal(t, ride.ID, event.RideID)
}

func TestCreateRideValidation(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*CreateRideRequest)
		wantErr error
	}{
		{"missing passenger", func(r *CreateRideRequest) { r.Passenger.ID = "" }, ErrInvalidPassenger},
		{"bad pickup latitude", func(r *CreateRideRequest) { r.Pickup.Latitude = 91 }, ErrInvalidPickupLocation},
		{"bad destination longitude", func(r *CreateRideRequest) { r.Destination.Longitude = -181 }, ErrInvalidDestinationLocation},
		{"negative fare", func(r *CreateRideRequest) { r.EstimatedFare = -1 }, ErrInvalidEstimate},
		{"negative distance", func(r *CreateRideRequest) { r.EstimatedDistanceKm = -1 }, ErrInvalidEstimate},
		{"negative time", func(r *CreateRideRequest) { r.EstimatedTimeMin = -1 }, ErrInvalidEstimate},
		{"unknown payment method", func(r *CreateRideRequest) { r.PaymentMethod = "cheque" }, ErrInvalidPaymentMethod},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(&req)
			_, err := l.CreateRide(ctx, req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestAcceptRide(t *testing.T) {
	l, notifier := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)

	loc := domain.Location{Latitude: -8.85, Longitude: 13.30}
	accepted, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1", Name: "Bento"}, &loc)
	require.NoError(t, err)

	assert.Equal(t, domain.RideStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.Driver)
	assert.Equal(t, "d1", accepted.Driver.ID)
	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.DriverLocation)

	calls := notifier.recorded()
	require.Len(t, calls, 3) // create broadcast, passenger unicast, unavailable broadcast

	assert.Equal(t, "user", calls[1].target)
	assert.Equal(t, domain.RolePassenger, calls[1].role)
	assert.Equal(t, "p1", calls[1].userID)
	acceptedEvent, ok := calls[1].event.(RideAcceptedEvent)
	require.True(t, ok)
	assert.Greater(t, acceptedEvent.EstimatedArrivalMin, 0)

	assert.Equal(t, "role", calls[2].target)
	assert.Equal(t, domain.RoleDriver, calls[2].role)
	_, ok = calls[2].event.(RideUnavailableEvent)
	assert.True(t, ok)
}

func TestAcceptRideRejectsNonPending(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)

	_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)

	_, err = l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d2"}, nil)
	assert.ErrorIs(t, err, ErrRideNotPending)
}

func TestAcceptRideConcurrent(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)

	const drivers = 20
	results := make(chan error, drivers)
	var wg sync.WaitGroup
	wg.Add(drivers)
	for i := 0; i < drivers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: string(rune('a' + n))}, nil)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, ErrRideNotPending)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, drivers-1, conflicts)
}

func TestRejectRideLeavesStatusUntouched(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)

	rejected, err := l.RejectRide(ctx, ride.ID, "d1", "too far")
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusPending, rejected.Status)
	require.Len(t, rejected.Rejections, 1)
	assert.Equal(t, "d1", rejected.Rejections[0].DriverID)
	assert.Equal(t, "too far", rejected.Rejections[0].Reason)

	// The rejecting driver may still accept later.
	accepted, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusAccepted, accepted.Status)
}

func TestStartRide(t *testing.T) {
	l, notifier := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)
	_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)

	pickup := domain.Location{Latitude: -8.84, Longitude: 13.29}
	started, err := l.StartRide(ctx, ride.ID, "d1", pickup)
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	calls := notifier.recorded()
	last := calls[len(calls)-1]
	assert.Equal(t, "role", last.target)
	assert.Equal(t, domain.RolePassenger, last.role)
	event, ok := last.event.(RideStartedEvent)
	require.True(t, ok)
	assert.Greater(t, event.EstimatedArrivalMin, 0)
}

func TestStartRideGuards(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	pickup := domain.Location{Latitude: -8.84, Longitude: 13.29}

	t.Run("not accepted", func(t *testing.T) {
		ride := mustCreate(t, l)
		_, err := l.StartRide(ctx, ride.ID, "d1", pickup)
		assert.ErrorIs(t, err, ErrRideNotAccepted)
	})

	t.Run("wrong driver", func(t *testing.T) {
		ride := mustCreate(t, l)
		_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
		require.NoError(t, err)
		_, err = l.StartRide(ctx, ride.ID, "d2", pickup)
		assert.ErrorIs(t, err, ErrDriverMismatch)
	})
}

func TestCompleteRide(t *testing.T) {
	l, notifier := newTestLifecycle(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	ride := mustCreate(t, l)
	_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)
	_, err = l.StartRide(ctx, ride.ID, "d1", domain.Location{Latitude: -8.84, Longitude: 13.29})
	require.NoError(t, err)

	// 8m30s of trip time rounds half-up to 9 minutes.
	l.now = func() time.Time { return base.Add(8*time.Minute + 30*time.Second) }

	dropoff := domain.Location{Latitude: -8.81, Longitude: 13.23}
	done, err := l.CompleteRide(ctx, ride.ID, "d1", dropoff, nil, true)
	require.NoError(t, err)

	assert.Equal(t, domain.RideStatusCompleted, done.Status)
	require.NotNil(t, done.ActualFare)
	assert.Equal(t, ride.EstimatedFare, *done.ActualFare)
	require.NotNil(t, done.ActualTimeMin)
	assert.Equal(t, 9, *done.ActualTimeMin)
	require.NotNil(t, done.ActualDistanceKm)
	assert.Greater(t, *done.ActualDistanceKm, 0.0)

	calls := notifier.recorded()
	last := calls[len(calls)-1]
	assert.Equal(t, "user", last.target)
	assert.Equal(t, "p1", last.userID)
	event, ok := last.event.(RideCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, ride.EstimatedFare, event.Fare)
}

func TestCompleteRideExplicitFare(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)
	_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)
	_, err = l.StartRide(ctx, ride.ID, "d1", domain.Location{Latitude: -8.84, Longitude: 13.29})
	require.NoError(t, err)

	fare := 2100.0
	done, err := l.CompleteRide(ctx, ride.ID, "d1", domain.Location{Latitude: -8.81, Longitude: 13.23}, &fare, true)
	require.NoError(t, err)
	require.NotNil(t, done.ActualFare)
	assert.Equal(t, fare, *done.ActualFare)
}

func TestCompleteRideGuards(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	dropoff := domain.Location{Latitude: -8.81, Longitude: 13.23}

	ride := mustCreate(t, l)
	_, err := l.CompleteRide(ctx, ride.ID, "d1", dropoff, nil, false)
	assert.ErrorIs(t, err, ErrRideNotInProgress)

	_, err = l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)
	_, err = l.StartRide(ctx, ride.ID, "d1", domain.Location{Latitude: -8.84, Longitude: 13.29})
	require.NoError(t, err)

	_, err = l.CompleteRide(ctx, ride.ID, "d2", dropoff, nil, false)
	assert.ErrorIs(t, err, ErrDriverMismatch)
}

func TestCancelRide(t *testing.T) {
	ctx := context.Background()

	t.Run("pending by passenger broadcasts recall", func(t *testing.T) {
		l, notifier := newTestLifecycle(t)
		ride := mustCreate(t, l)

		cancelled, err := l.CancelRide(ctx, ride.ID, "p1", domain.RolePassenger, "changed plans")
		require.NoError(t, err)
		assert.Equal(t, domain.RideStatusCancelled, cancelled.Status)
		assert.Equal(t, domain.RolePassenger, cancelled.CancelledBy)
		assert.Equal(t, "changed plans", cancelled.CancelReason)
		require.NotNil(t, cancelled.CancelledAt)

		last := notifier.recorded()[len(notifier.recorded())-1]
		assert.Equal(t, "role", last.target)
		assert.Equal(t, domain.RoleDriver, last.role)
	})

	t.Run("accepted by passenger notifies the driver", func(t *testing.T) {
		l, notifier := newTestLifecycle(t)
		ride := mustCreate(t, l)
		_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
		require.NoError(t, err)

		_, err = l.CancelRide(ctx, ride.ID, "p1", domain.RolePassenger, "")
		require.NoError(t, err)

		last := notifier.recorded()[len(notifier.recorded())-1]
		assert.Equal(t, "user", last.target)
		assert.Equal(t, domain.RoleDriver, last.role)
		assert.Equal(t, "d1", last.userID)
	})

	t.Run("by driver notifies the passenger", func(t *testing.T) {
		l, notifier := newTestLifecycle(t)
		ride := mustCreate(t, l)
		_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
		require.NoError(t, err)

		_, err = l.CancelRide(ctx, ride.ID, "d1", domain.RoleDriver, "breakdown")
		require.NoError(t, err)

		last := notifier.recorded()[len(notifier.recorded())-1]
		assert.Equal(t, "user", last.target)
		assert.Equal(t, domain.RolePassenger, last.role)
		assert.Equal(t, "p1", last.userID)
	})

	t.Run("terminal rides cannot be cancelled", func(t *testing.T) {
		l, _ := newTestLifecycle(t)
		ride := mustCreate(t, l)
		_, err := l.CancelRide(ctx, ride.ID, "p1", domain.RolePassenger, "")
		require.NoError(t, err)

		_, err = l.CancelRide(ctx, ride.ID, "p1", domain.RolePassenger, "")
		assert.ErrorIs(t, err, ErrRideFinished)
	})

	t.Run("invalid actor", func(t *testing.T) {
		l, _ := newTestLifecycle(t)
		ride := mustCreate(t, l)
		_, err := l.CancelRide(ctx, ride.ID, "p1", "admin", "")
		assert.ErrorIs(t, err, ErrInvalidActor)
	})
}

func TestUpdateDriverLocation(t *testing.T) {
	l, notifier := newTestLifecycle(t)
	ctx := context.Background()
	ride := mustCreate(t, l)
	_, err := l.AcceptRide(ctx, ride.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)

	loc := domain.Location{Latitude: -8.86, Longitude: 13.31}
	updated, err := l.UpdateDriverLocation(ctx, ride.ID, "d1", loc)
	require.NoError(t, err)
	assert.Equal(t, domain.RideStatusAccepted, updated.Status)
	require.NotNil(t, updated.DriverLocation)
	assert.Equal(t, loc.Latitude, updated.DriverLocation.Latitude)

	last := notifier.recorded()[len(notifier.recorded())-1]
	assert.Equal(t, "user", last.target)
	assert.Equal(t, "p1", last.userID)
	event, ok := last.event.(DriverLocationUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, ride.ID, event.RideID)

	t.Run("wrong driver", func(t *testing.T) {
		_, err := l.UpdateDriverLocation(ctx, ride.ID, "d2", loc)
		assert.ErrorIs(t, err, ErrDriverMismatch)
	})
}

func TestListRidesClampsPaging(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()
	mustCreate(t, l)

	page, err := l.ListRides(ctx, repository.ListFilter{Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, 1, page.Total)
}

func TestListPendingNear(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()

	near := validCreateRequest()
	far := validCreateRequest()
	far.Pickup = domain.Location{Latitude: -9.5, Longitude: 14.0}

	nearRide, err := l.CreateRide(ctx, near)
	require.NoError(t, err)
	_, err = l.CreateRide(ctx, far)
	require.NoError(t, err)

	origin := domain.Location{Latitude: -8.84, Longitude: 13.29}
	matches, err := l.ListPendingNear(ctx, &origin, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, nearRide.ID, matches[0].Ride.ID)
	require.NotNil(t, matches[0].DistanceKm)

	t.Run("no origin returns all pending", func(t *testing.T) {
		matches, err := l.ListPendingNear(ctx, nil, 0)
		require.NoError(t, err)
		assert.Len(t, matches, 2)
		assert.Nil(t, matches[0].DistanceKm)
	})

	t.Run("invalid origin", func(t *testing.T) {
		bad := domain.Location{Latitude: 200}
		_, err := l.ListPendingNear(ctx, &bad, 10)
		assert.ErrorIs(t, err, ErrInvalidLocation)
	})
}

func TestActiveRideForDriver(t *testing.T) {
	l, _ := newTestLifecycle(t)
	ctx := context.Background()

	ride, err := l.ActiveRideForDriver(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, ride)

	created := mustCreate(t, l)
	_, err = l.AcceptRide(ctx, created.ID, domain.Driver{ID: "d1"}, nil)
	require.NoError(t, err)

	ride, err = l.ActiveRideForDriver(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, ride)
	assert.Equal(t, created.ID, ride.ID)
}

func TestValidatePaymentMethod(t *testing.T) {
	method, err := ValidatePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCash, method)

	method, err = ValidatePaymentMethod("card")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCard, method)

	_, err = ValidatePaymentMethod("barter")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}
