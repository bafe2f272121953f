package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusInProgress RideStatus = "in_progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s RideStatus) Terminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// allowedTransitions encodes the ride state machine. Cancellation is
// permitted from every non-terminal state; completed and cancelled have
// no successors.
var allowedTransitions = map[RideStatus][]RideStatus{
	RideStatusPending:    {RideStatusAccepted, RideStatusCancelled},
	RideStatusAccepted:   {RideStatusInProgress, RideStatusCancelled},
	RideStatusInProgress: {RideStatusCompleted, RideStatusCancelled},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to RideStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentMethod represents the payment method for a ride.
type PaymentMethod string

const (
	PaymentMethodCash    PaymentMethod = "cash"
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodDigital PaymentMethod = "digital"
)

// Role identifies which side of a ride a user is on.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

// Location is a geographic point with an optional human-readable address.
type Location struct {
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinates are within range.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180
}

// Passenger identifies the requesting party of a ride.
type Passenger struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Driver identifies the party serving a ride. Nil on a ride until accepted.
type Driver struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	VehicleInfo string `json:"vehicle_info,omitempty"`
}

// Rejection is an audit record of a driver declining a ride. It never
// mutates the ride's status; the ride stays visible to other drivers.
type Rejection struct {
	DriverID   string    `json:"driver_id"`
	Reason     string    `json:"reason,omitempty"`
	RejectedAt time.Time `json:"rejected_at"`
}

// Ride is the unit of work of the dispatch engine.
//
// The estimated fields are set at creation and never change; the actual
// fields and the timestamps are populated progressively by lifecycle
// transitions, each exactly once. Driver is nil only while pending.
type Ride struct {
	ID          string    `json:"id"`
	Passenger   Passenger `json:"passenger"`
	Pickup      Location  `json:"pickup"`
	Destination Location  `json:"destination"`

	EstimatedFare       float64 `json:"estimated_fare"`
	EstimatedDistanceKm float64 `json:"estimated_distance_km"`
	EstimatedTimeMin    int     `json:"estimated_time_min"`

	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        RideStatus    `json:"status"`
	Driver        *Driver       `json:"driver,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	ActualFare       *float64  `json:"actual_fare,omitempty"`
	ActualDistanceKm *float64  `json:"actual_distance_km,omitempty"`
	ActualTimeMin    *int      `json:"actual_time_min,omitempty"`
	CancelReason     string    `json:"cancel_reason,omitempty"`
	CancelledBy      Role      `json:"cancelled_by,omitempty"`
	DriverLocation   *Location `json:"driver_location,omitempty"`

	Rejections []Rejection `json:"rejections,omitempty"`
}

// Clone returns a deep copy so repository callers never share mutable state.
func (r *Ride) Clone() *Ride {
	out := *r
	if r.Driver != nil {
		d := *r.Driver
		out.Driver = &d
	}
	if r.DriverLocation != nil {
		l := *r.DriverLocation
		out.DriverLocation = &l
	}
	out.AcceptedAt = cloneTime(r.AcceptedAt)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	if r.ActualFare != nil {
		f := *r.ActualFare
		out.ActualFare = &f
	}
	if r.ActualDistanceKm != nil {
		d := *r.ActualDistanceKm
		out.ActualDistanceKm = &d
	}
	if r.ActualTimeMin != nil {
		m := *r.ActualTimeMin
		out.ActualTimeMin = &m
	}
	if r.Rejections != nil {
		out.Rejections = make([]Rejection, len(r.Rejections))
		copy(out.Rejections, r.Rejections)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
