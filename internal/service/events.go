package service

import "dispatch/internal/domain"

// Event type tags carried in every real-time payload.
const (
	EventNewRideRequest       = "new_ride_request"
	EventRideAccepted         = "ride_accepted"
	EventRideUnavailable      = "ride_unavailable"
	EventRideStarted          = "ride_started"
	EventRideCompleted        = "ride_completed"
	EventRideCancelled        = "ride_cancelled"
	EventDriverLocationUpdate = "driver_location_update"
)

// NewRideRequestEvent announces a fresh pending ride to all drivers.
type NewRideRequestEvent struct {
	Type   string       `json:"type"`
	RideID string       `json:"ride_id"`
	Ride   *domain.Ride `json:"ride"`
}

// RideAcceptedEvent tells the passenger which driver is coming.
type RideAcceptedEvent struct {
	Type                string         `json:"type"`
	RideID              string         `json:"ride_id"`
	Ride                *domain.Ride   `json:"ride"`
	Driver              *domain.Driver `json:"driver"`
	EstimatedArrivalMin int            `json:"estimated_arrival_min"`
}

// RideUnavailableEvent tells drivers a pending ride is gone.
type RideUnavailableEvent struct {
	Type   string `json:"type"`
	RideID string `json:"ride_id"`
}

// RideStartedEvent announces the trip is underway.
type RideStartedEvent struct {
	Type                string `json:"type"`
	RideID              string `json:"ride_id"`
	EstimatedArrivalMin int    `json:"estimated_arrival_min"`
}

// RideCompletedEvent carries the final fare.
type RideCompletedEvent struct {
	Type   string  `json:"type"`
	RideID string  `json:"ride_id"`
	Fare   float64 `json:"fare"`
}

// RideCancelledEvent tells the counterparty the ride was called off.
type RideCancelledEvent struct {
	Type        string      `json:"type"`
	RideID      string      `json:"ride_id"`
	CancelledBy domain.Role `json:"cancelled_by"`
	Reason      string      `json:"reason,omitempty"`
}

// DriverLocationUpdateEvent streams the driver's position and live ETA.
type DriverLocationUpdateEvent struct {
	Type                string          `json:"type"`
	RideID              string          `json:"ride_id"`
	DriverLocation      domain.Location `json:"driver_location"`
	EstimatedArrivalMin int             `json:"estimated_arrival_min"`
}

// Notifier fans dispatch events out to live connections. Delivery is
// fire-and-forget: implementations log and swallow transport failures so a
// dead socket never fails the lifecycle operation that triggered the event.
type Notifier interface {
	// NotifyUser delivers to the one connection registered for
	// (role, userID); when none is registered it falls back to a
	// role-wide broadcast so the event is not lost.
	NotifyUser(role domain.Role, userID string, event any)

	// NotifyRole broadcasts to every connection with the given role.
	NotifyRole(role domain.Role, event any)
}

// NopNotifier discards all events. Used when no hub is wired, and in tests.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(domain.Role, string, any) {}
func (NopNotifier) NotifyRole(domain.Role, any)         {}
