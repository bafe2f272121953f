package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/metrics"
	"dispatch/internal/repository"
)

// Settings are the engine-level tunables. Zero fields fall back to the
// defaults below.
type Settings struct {
	SearchRadiusKm  float64
	MatchLimit      int
	DefaultPageSize int
	MaxPageSize     int
	AvgSpeedKmh     float64
}

const (
	defaultSearchRadiusKm = 10.0
	defaultMatchLimit     = 10
	defaultPageSize       = 20
	defaultMaxPageSize    = 100
	defaultAvgSpeedKmh    = 30.0
)

func (s Settings) withDefaults() Settings {
	if s.SearchRadiusKm <= 0 {
		s.SearchRadiusKm = defaultSearchRadiusKm
	}
	if s.MatchLimit <= 0 {
		s.MatchLimit = defaultMatchLimit
	}
	if s.DefaultPageSize <= 0 {
		s.DefaultPageSize = defaultPageSize
	}
	if s.MaxPageSize <= 0 {
		s.MaxPageSize = defaultMaxPageSize
	}
	if s.AvgSpeedKmh <= 0 {
		s.AvgSpeedKmh = defaultAvgSpeedKmh
	}
	return s
}

// RideLifecycle is the ride state machine. Every precondition is checked
// inside the repository's per-ride mutation, so racing requests against the
// same ride serialize: two drivers accepting one pending ride yield exactly
// one acceptance and one conflict.
type RideLifecycle struct {
	repo     repository.RideRepository
	notifier Notifier
	metrics  *metrics.Metrics
	settings Settings
	log      zerolog.Logger

	now func() time.Time
}

// NewRideLifecycle creates the lifecycle engine. notifier may be nil when no
// realtime hub is wired; metrics may be nil.
func NewRideLifecycle(
	repo repository.RideRepository,
	notifier Notifier,
	m *metrics.Metrics,
	settings Settings,
	log zerolog.Logger,
) *RideLifecycle {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &RideLifecycle{
		repo:     repo,
		notifier: notifier,
		metrics:  m,
		settings: settings.withDefaults(),
		log:      log.With().Str("component", "lifecycle").Logger(),
		now:      time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride. Estimates
// come from the (external) pricing layer and are immutable afterwards.
type CreateRideRequest struct {
	Passenger           domain.Passenger
	Pickup              domain.Location
	Destination         domain.Location
	EstimatedFare       float64
	EstimatedDistanceKm float64
	EstimatedTimeMin    int
	PaymentMethod       domain.PaymentMethod
}

// CreateRide validates the request, stores a new pending ride and announces
// it to all connected drivers.
func (l *RideLifecycle) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if req.Passenger.ID == "" {
		return nil, ErrInvalidPassenger
	}
	if !req.Pickup.Valid() {
		return nil, ErrInvalidPickupLocation
	}
	if !req.Destination.Valid() {
		return nil, ErrInvalidDestinationLocation
	}
	if req.EstimatedFare < 0 || req.EstimatedDistanceKm < 0 || req.EstimatedTimeMin < 0 {
		return nil, ErrInvalidEstimate
	}

	method, err := ValidatePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		ID:                  uuid.New().String(),
		Passenger:           req.Passenger,
		Pickup:              req.Pickup,
		Destination:         req.Destination,
		EstimatedFare:       req.EstimatedFare,
		EstimatedDistanceKm: req.EstimatedDistanceKm,
		EstimatedTimeMin:    req.EstimatedTimeMin,
		PaymentMethod:       method,
		Status:              domain.RideStatusPending,
		RequestedAt:         l.now(),
	}

	if err := l.repo.Create(ctx, ride); err != nil {
		return nil, err
	}

	l.metrics.RideCreated()
	l.log.Info().Str("ride_id", ride.ID).Str("passenger_id", ride.Passenger.ID).Msg("ride created")

	l.notifier.NotifyRole(domain.RoleDriver, NewRideRequestEvent{
		Type:   EventNewRideRequest,
		RideID: ride.ID,
		Ride:   ride,
	})
	return ride, nil
}

// AcceptRide assigns a driver to a pending ride. location is the driver's
// current position when known; it seeds the passenger-facing ETA.
func (l *RideLifecycle) AcceptRide(ctx context.Context, rideID string, driver domain.Driver, location *domain.Location) (*domain.Ride, error) {
	if driver.ID == "" {
		return nil, ErrInvalidDriver
	}
	if location != nil && !location.Valid() {
		return nil, ErrInvalidLocation
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		if r.Status != domain.RideStatusPending {
			return ErrRideNotPending
		}
		now := l.now()
		r.Status = domain.RideStatusAccepted
		r.Driver = &driver
		r.AcceptedAt = &now
		if location != nil {
			loc := *location
			r.DriverLocation = &loc
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRideNotPending) {
			l.metrics.AcceptConflict()
		}
		return nil, err
	}

	l.metrics.RideAccepted()
	l.log.Info().Str("ride_id", ride.ID).Str("driver_id", driver.ID).Msg("ride accepted")

	eta := 0
	if ride.DriverLocation != nil {
		eta = geo.ETAMinutes(geo.DistanceKm(*ride.DriverLocation, ride.Pickup), l.settings.AvgSpeedKmh)
	}
	l.notifier.NotifyUser(domain.RolePassenger, ride.Passenger.ID, RideAcceptedEvent{
		Type:                EventRideAccepted,
		RideID:              ride.ID,
		Ride:                ride,
		Driver:              ride.Driver,
		EstimatedArrivalMin: eta,
	})
	l.notifier.NotifyRole(domain.RoleDriver, RideUnavailableEvent{
		Type:   EventRideUnavailable,
		RideID: ride.ID,
	})
	return ride, nil
}

// RejectRide records a driver's rejection as an audit entry. The ride's
// status is untouched and it stays visible to other drivers; the rejecting
// driver is not excluded from later offers for the same ride.
func (l *RideLifecycle) RejectRide(ctx context.Context, rideID, driverID, reason string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriver
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		r.Rejections = append(r.Rejections, domain.Rejection{
			DriverID:   driverID,
			Reason:     reason,
			RejectedAt: l.now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("ride_id", rideID).
		Str("driver_id", driverID).
		Str("reason", reason).
		Msg("ride rejected")
	return ride, nil
}

// StartRide transitions an accepted ride to in_progress. Only the assigned
// driver may start it; pickupLocation is where the driver picked up.
func (l *RideLifecycle) StartRide(ctx context.Context, rideID, driverID string, pickupLocation domain.Location) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriver
	}
	if !pickupLocation.Valid() {
		return nil, ErrInvalidLocation
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		if r.Status != domain.RideStatusAccepted {
			return ErrRideNotAccepted
		}
		if r.Driver == nil || r.Driver.ID != driverID {
			return ErrDriverMismatch
		}
		now := l.now()
		r.Status = domain.RideStatusInProgress
		r.StartedAt = &now
		loc := pickupLocation
		r.DriverLocation = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Str("ride_id", ride.ID).Str("driver_id", driverID).Msg("ride started")

	eta := geo.ETAMinutes(geo.DistanceKm(pickupLocation, ride.Destination), l.settings.AvgSpeedKmh)
	l.notifier.NotifyRole(domain.RolePassenger, RideStartedEvent{
		Type:                EventRideStarted,
		RideID:              ride.ID,
		EstimatedArrivalMin: eta,
	})
	return ride, nil
}

// CompleteRide closes an in-progress ride. actualFare defaults to the
// estimate when nil; the trip duration is rounded half-up to whole minutes.
func (l *RideLifecycle) CompleteRide(ctx context.Context, rideID, driverID string, dropoff domain.Location, actualFare *float64, paymentConfirmed bool) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriver
	}
	if !dropoff.Valid() {
		return nil, ErrInvalidLocation
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		if r.Status != domain.RideStatusInProgress {
			return ErrRideNotInProgress
		}
		if r.Driver == nil || r.Driver.ID != driverID {
			return ErrDriverMismatch
		}

		now := l.now()
		r.Status = domain.RideStatusCompleted
		r.CompletedAt = &now

		fare := r.EstimatedFare
		if actualFare != nil {
			fare = *actualFare
		}
		r.ActualFare = &fare

		distance := geo.DistanceKm(r.Pickup, dropoff)
		r.ActualDistanceKm = &distance

		minutes := 0
		if r.StartedAt != nil {
			minutes = int(math.Round(now.Sub(*r.StartedAt).Minutes()))
		}
		r.ActualTimeMin = &minutes

		loc := dropoff
		r.DriverLocation = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RideCompleted()
	l.log.Info().
		Str("ride_id", ride.ID).
		Str("driver_id", driverID).
		Float64("fare", *ride.ActualFare).
		Bool("payment_confirmed", paymentConfirmed).
		Msg("ride completed")

	l.notifier.NotifyUser(domain.RolePassenger, ride.Passenger.ID, RideCompletedEvent{
		Type:   EventRideCompleted,
		RideID: ride.ID,
		Fare:   *ride.ActualFare,
	})
	return ride, nil
}

// CancelRide cancels any non-terminal ride, recording who called it off.
func (l *RideLifecycle) CancelRide(ctx context.Context, rideID, actorID string, actorRole domain.Role, reason string) (*domain.Ride, error) {
	if actorID == "" || (actorRole != domain.RoleDriver && actorRole != domain.RolePassenger) {
		return nil, ErrInvalidActor
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		if r.Status.Terminal() {
			return ErrRideFinished
		}
		now := l.now()
		r.Status = domain.RideStatusCancelled
		r.CancelledAt = &now
		r.CancelledBy = actorRole
		r.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.metrics.RideCancelled()
	l.log.Info().
		Str("ride_id", ride.ID).
		Str("actor_id", actorID).
		Str("actor_role", string(actorRole)).
		Str("reason", reason).
		Msg("ride cancelled")

	event := RideCancelledEvent{
		Type:        EventRideCancelled,
		RideID:      ride.ID,
		CancelledBy: actorRole,
		Reason:      reason,
	}
	switch {
	case actorRole == domain.RolePassenger && ride.Driver != nil:
		l.notifier.NotifyUser(domain.RoleDriver, ride.Driver.ID, event)
	case actorRole == domain.RolePassenger:
		// No driver was assigned yet; recall the offer from everyone.
		l.notifier.NotifyRole(domain.RoleDriver, event)
	default:
		l.notifier.NotifyUser(domain.RolePassenger, ride.Passenger.ID, event)
	}
	return ride, nil
}

// UpdateDriverLocation stores the assigned driver's position and streams the
// refreshed ETA to the passenger. The ride's status is unchanged.
func (l *RideLifecycle) UpdateDriverLocation(ctx context.Context, rideID, driverID string, location domain.Location) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriver
	}
	if !location.Valid() {
		return nil, ErrInvalidLocation
	}

	ride, err := l.repo.Mutate(ctx, rideID, func(r *domain.Ride) error {
		if r.Driver == nil || r.Driver.ID != driverID {
			return ErrDriverMismatch
		}
		loc := location
		r.DriverLocation = &loc
		return nil
	})
	if err != nil {
		return nil, err
	}

	target := ride.Pickup
	if ride.Status == domain.RideStatusInProgress {
		target = ride.Destination
	}
	eta := geo.ETAMinutes(geo.DistanceKm(location, target), l.settings.AvgSpeedKmh)

	l.notifier.NotifyUser(domain.RolePassenger, ride.Passenger.ID, DriverLocationUpdateEvent{
		Type:                EventDriverLocationUpdate,
		RideID:              ride.ID,
		DriverLocation:      location,
		EstimatedArrivalMin: eta,
	})
	return ride, nil
}

// GetRide retrieves a single ride.
func (l *RideLifecycle) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	return l.repo.GetByID(ctx, rideID)
}

// Page is one slice of a ride listing.
type Page struct {
	Rides  []*domain.Ride
	Total  int
	Limit  int
	Offset int
}

// ListRides pages through rides matching the filter, newest first. The limit
// is clamped to the configured bounds.
func (l *RideLifecycle) ListRides(ctx context.Context, filter repository.ListFilter) (*Page, error) {
	if filter.Limit <= 0 {
		filter.Limit = l.settings.DefaultPageSize
	}
	if filter.Limit > l.settings.MaxPageSize {
		filter.Limit = l.settings.MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rides, total, err := l.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Rides: rides, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// NearbyRide pairs a pending ride with its pickup distance from the querying
// driver. DistanceKm is nil when no origin was supplied.
type NearbyRide struct {
	Ride       *domain.Ride
	DistanceKm *float64
}

// ListPendingNear returns pending rides whose pickup lies within radiusKm of
// origin, nearest first, capped at the configured match limit. With no
// origin every pending ride is returned, unsorted.
func (l *RideLifecycle) ListPendingNear(ctx context.Context, origin *domain.Location, radiusKm float64) ([]NearbyRide, error) {
	if origin != nil && !origin.Valid() {
		return nil, ErrInvalidLocation
	}

	pending, err := l.repo.ListByStatus(ctx, domain.RideStatusPending)
	if err != nil {
		return nil, err
	}

	if origin == nil {
		out := make([]NearbyRide, 0, len(pending))
		for _, r := range pending {
			out = append(out, NearbyRide{Ride: r})
		}
		return out, nil
	}

	if radiusKm <= 0 {
		radiusKm = l.settings.SearchRadiusKm
	}

	pickups := make([]domain.Location, len(pending))
	for i, r := range pending {
		pickups[i] = r.Pickup
	}

	matches := geo.Nearby(*origin, pickups, radiusKm)
	if len(matches) > l.settings.MatchLimit {
		matches = matches[:l.settings.MatchLimit]
	}

	out := make([]NearbyRide, 0, len(matches))
	for _, m := range matches {
		d := m.DistanceKm
		out = append(out, NearbyRide{Ride: pending[m.Index], DistanceKm: &d})
	}
	return out, nil
}

// ActiveRideForDriver resolves the driver's current accepted or in-progress
// ride, or (nil, nil) when there is none. Used by the realtime channel to
// route bare location updates.
func (l *RideLifecycle) ActiveRideForDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	if driverID == "" {
		return nil, ErrInvalidDriver
	}
	return l.repo.ActiveByDriver(ctx, driverID)
}

// ValidatePaymentMethod validates a payment method string, defaulting to
// cash when empty.
func ValidatePaymentMethod(method string) (domain.PaymentMethod, error) {
	switch domain.PaymentMethod(method) {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodDigital:
		return domain.PaymentMethod(method), nil
	case "":
		return domain.PaymentMethodCash, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}
