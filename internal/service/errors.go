package service

import "errors"

var (
	// ErrInvalidPassenger is returned when the passenger id is empty.
	ErrInvalidPassenger = errors.New("invalid passenger")

	// ErrInvalidPickupLocation is returned when pickup coordinates are out of range.
	ErrInvalidPickupLocation = errors.New("invalid pickup location")

	// ErrInvalidDestinationLocation is returned when destination coordinates are out of range.
	ErrInvalidDestinationLocation = errors.New("invalid destination location")

	// ErrInvalidLocation is returned when a reported location is out of range.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidEstimate is returned when a fare, distance or time estimate is negative.
	ErrInvalidEstimate = errors.New("invalid estimate")

	// ErrInvalidPaymentMethod is returned when the payment method is unknown.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrInvalidDriver is returned when the driver id is empty.
	ErrInvalidDriver = errors.New("invalid driver")

	// ErrInvalidActor is returned when a cancel actor or role is missing or unknown.
	ErrInvalidActor = errors.New("invalid actor")

	// ErrRideNotPending is returned when accepting a ride that has already
	// been taken or closed.
	ErrRideNotPending = errors.New("ride is not pending")

	// ErrRideNotAccepted is returned when starting a ride that is not in
	// the accepted state.
	ErrRideNotAccepted = errors.New("ride is not accepted")

	// ErrRideNotInProgress is returned when completing a ride that is not
	// underway.
	ErrRideNotInProgress = errors.New("ride is not in progress")

	// ErrRideFinished is returned when cancelling a ride that already
	// reached a terminal state.
	ErrRideFinished = errors.New("ride already finished")

	// ErrDriverMismatch is returned when a driver acts on a ride assigned
	// to somebody else.
	ErrDriverMismatch = errors.New("driver not assigned to this ride")
)
