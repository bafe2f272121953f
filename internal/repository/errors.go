package repository

import "errors"

var (
	// ErrNotFound is returned when a requested ride does not exist.
	ErrNotFound = errors.New("ride not found")

	// ErrAlreadyExists is returned when creating a ride with a taken ID.
	ErrAlreadyExists = errors.New("ride already exists")
)
