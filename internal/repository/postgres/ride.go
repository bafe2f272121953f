package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

const rideColumns = `id, passenger_id, passenger_name, passenger_phone,
	pickup_address, pickup_lat, pickup_lng,
	destination_address, destination_lat, destination_lng,
	estimated_fare, estimated_distance_km, estimated_time_min,
	payment_method, status,
	driver_id, driver_name, driver_phone, driver_vehicle,
	requested_at, accepted_at, started_at, completed_at, cancelled_at,
	actual_fare, actual_distance_km, actual_time_min,
	cancel_reason, cancelled_by,
	driver_loc_address, driver_loc_lat, driver_loc_lng`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// Per-ride serialization comes from SELECT ... FOR UPDATE inside Mutate.
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
	`

	args := rideArgs(ride)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID retrieves a ride by ID, including its rejection audit records.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	ride, err := scanRide(r.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadRejections(ctx, r.db, ride); err != nil {
		return nil, err
	}
	return ride, nil
}

// List retrieves rides matching the filter, newest first, along with the
// total match count before paging.
func (r *RideRepository) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Ride, int, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)

	add := func(cond string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.DriverID != "" {
		add("driver_id = $%d", filter.DriverID)
	}
	if filter.PassengerID != "" {
		add("passenger_id = $%d", filter.PassengerID)
	}
	if !filter.Since.IsZero() {
		add("requested_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("requested_at <= $%d", filter.Until)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rides`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + rideColumns + ` FROM rides` + clause + ` ORDER BY requested_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rides, err := r.queryRides(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return rides, total, nil
}

// ListByStatus retrieves every ride in the given status, oldest first.
func (r *RideRepository) ListByStatus(ctx context.Context, status domain.RideStatus) ([]*domain.Ride, error) {
	return r.queryRides(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE status = $1 ORDER BY requested_at ASC`,
		string(status))
}

// ActiveByDriver returns the driver's accepted or in-progress ride, or
// (nil, nil) when the driver has none.
func (r *RideRepository) ActiveByDriver(ctx context.Context, driverID string) (*domain.Ride, error) {
	ride, err := scanRide(r.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides
		 WHERE driver_id = $1 AND status IN ('accepted', 'in_progress')
		 ORDER BY requested_at DESC LIMIT 1`, driverID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ride, nil
}

// Mutate loads the ride inside a transaction with a row lock, applies fn,
// and writes the result back. The row lock makes the callback's check and
// write atomic against concurrent mutations of the same ride.
func (r *RideRepository) Mutate(ctx context.Context, id string, fn func(*domain.Ride) error) (*domain.Ride, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ride, err := scanRide(tx.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadRejections(ctx, tx, ride); err != nil {
		return nil, err
	}

	before := len(ride.Rejections)
	if err := fn(ride); err != nil {
		return nil, err
	}

	args := rideArgs(ride)
	// Shift past the id column, which goes into the WHERE clause.
	set := make([]string, 0, 31)
	cols := strings.Split(rideColumns, ",")
	for i, col := range cols[1:] {
		set = append(set, fmt.Sprintf("%s = $%d", strings.TrimSpace(col), i+2))
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE rides SET `+strings.Join(set, ", ")+` WHERE id = $1`, args...); err != nil {
		return nil, err
	}

	for _, rej := range ride.Rejections[before:] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ride_rejections (ride_id, driver_id, reason, rejected_at)
			 VALUES ($1, $2, $3, $4)`,
			ride.ID, rej.DriverID, nullString(rej.Reason), rej.RejectedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (r *RideRepository) queryRides(ctx context.Context, query string, args ...any) ([]*domain.Ride, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

func (r *RideRepository) loadRejections(ctx context.Context, q Querier, ride *domain.Ride) error {
	rows, err := q.QueryContext(ctx,
		`SELECT driver_id, reason, rejected_at FROM ride_rejections
		 WHERE ride_id = $1 ORDER BY rejected_at ASC`, ride.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rej domain.Rejection
		var reason sql.NullString
		if err := rows.Scan(&rej.DriverID, &reason, &rej.RejectedAt); err != nil {
			return err
		}
		rej.Reason = reason.String
		ride.Rejections = append(ride.Rejections, rej)
	}
	return rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRide(row scanner) (*domain.Ride, error) {
	var ride domain.Ride
	var passengerPhone, cancelReason, cancelledBy sql.NullString
	var driverID, driverName, driverPhone, driverVehicle sql.NullString
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var actualFare, actualDistance sql.NullFloat64
	var actualTime sql.NullInt64
	var driverLocAddress sql.NullString
	var driverLocLat, driverLocLng sql.NullFloat64

	err := row.Scan(
		&ride.ID, &ride.Passenger.ID, &ride.Passenger.Name, &passengerPhone,
		&ride.Pickup.Address, &ride.Pickup.Latitude, &ride.Pickup.Longitude,
		&ride.Destination.Address, &ride.Destination.Latitude, &ride.Destination.Longitude,
		&ride.EstimatedFare, &ride.EstimatedDistanceKm, &ride.EstimatedTimeMin,
		&ride.PaymentMethod, &ride.Status,
		&driverID, &driverName, &driverPhone, &driverVehicle,
		&ride.RequestedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
		&actualFare, &actualDistance, &actualTime,
		&cancelReason, &cancelledBy,
		&driverLocAddress, &driverLocLat, &driverLocLng,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	ride.Passenger.Phone = passengerPhone.String
	if driverID.Valid {
		ride.Driver = &domain.Driver{
			ID:          driverID.String,
			Name:        driverName.String,
			Phone:       driverPhone.String,
			VehicleInfo: driverVehicle.String,
		}
	}
	if acceptedAt.Valid {
		ride.AcceptedAt = &acceptedAt.Time
	}
	if startedAt.Valid {
		ride.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ride.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		ride.CancelledAt = &cancelledAt.Time
	}
	if actualFare.Valid {
		ride.ActualFare = &actualFare.Float64
	}
	if actualDistance.Valid {
		ride.ActualDistanceKm = &actualDistance.Float64
	}
	if actualTime.Valid {
		m := int(actualTime.Int64)
		ride.ActualTimeMin = &m
	}
	ride.CancelReason = cancelReason.String
	ride.CancelledBy = domain.Role(cancelledBy.String)
	if driverLocLat.Valid && driverLocLng.Valid {
		ride.DriverLocation = &domain.Location{
			Address:   driverLocAddress.String,
			Latitude:  driverLocLat.Float64,
			Longitude: driverLocLng.Float64,
		}
	}
	return &ride, nil
}

// rideArgs lists the bind values in rideColumns order.
func rideArgs(ride *domain.Ride) []any {
	var driverID, driverName, driverPhone, driverVehicle sql.NullString
	if ride.Driver != nil {
		driverID = sql.NullString{String: ride.Driver.ID, Valid: true}
		driverName = sql.NullString{String: ride.Driver.Name, Valid: true}
		driverPhone = nullString(ride.Driver.Phone)
		driverVehicle = nullString(ride.Driver.VehicleInfo)
	}

	var driverLocAddress sql.NullString
	var driverLocLat, driverLocLng sql.NullFloat64
	if ride.DriverLocation != nil {
		driverLocAddress = nullString(ride.DriverLocation.Address)
		driverLocLat = sql.NullFloat64{Float64: ride.DriverLocation.Latitude, Valid: true}
		driverLocLng = sql.NullFloat64{Float64: ride.DriverLocation.Longitude, Valid: true}
	}

	var actualFare, actualDistance sql.NullFloat64
	if ride.ActualFare != nil {
		actualFare = sql.NullFloat64{Float64: *ride.ActualFare, Valid: true}
	}
	if ride.ActualDistanceKm != nil {
		actualDistance = sql.NullFloat64{Float64: *ride.ActualDistanceKm, Valid: true}
	}
	var actualTime sql.NullInt64
	if ride.ActualTimeMin != nil {
		actualTime = sql.NullInt64{Int64: int64(*ride.ActualTimeMin), Valid: true}
	}

	return []any{
		ride.ID, ride.Passenger.ID, ride.Passenger.Name, nullString(ride.Passenger.Phone),
		ride.Pickup.Address, ride.Pickup.Latitude, ride.Pickup.Longitude,
		ride.Destination.Address, ride.Destination.Latitude, ride.Destination.Longitude,
		ride.EstimatedFare, ride.EstimatedDistanceKm, ride.EstimatedTimeMin,
		string(ride.PaymentMethod), string(ride.Status),
		driverID, driverName, driverPhone, driverVehicle,
		ride.RequestedAt, nullTime(ride.AcceptedAt), nullTime(ride.StartedAt),
		nullTime(ride.CompletedAt), nullTime(ride.CancelledAt),
		actualFare, actualDistance, actualTime,
		nullString(ride.CancelReason), nullString(string(ride.CancelledBy)),
		driverLocAddress, driverLocLat, driverLocLng,
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ repository.RideRepository = (*RideRepository)(nil)
