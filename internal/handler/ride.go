package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	lifecycle *service.RideLifecycle
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(lifecycle *service.RideLifecycle) *RideHandler {
	return &RideHandler{lifecycle: lifecycle}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	Passenger           domain.Passenger `json:"passenger"`
	Pickup              domain.Location  `json:"pickup"`
	Destination         domain.Location  `json:"destination"`
	EstimatedFare       float64          `json:"estimated_fare"`
	EstimatedDistanceKm float64          `json:"estimated_distance_km"`
	EstimatedTimeMin    int              `json:"estimated_time_min"`
	PaymentMethod       string           `json:"payment_method,omitempty"`
}

// AcceptRideRequest is the HTTP request body for accepting a ride.
type AcceptRideRequest struct {
	DriverID    string           `json:"driver_id"`
	DriverName  string           `json:"driver_name"`
	DriverPhone string           `json:"driver_phone,omitempty"`
	VehicleInfo string           `json:"vehicle_info,omitempty"`
	Location    *domain.Location `json:"location,omitempty"`
}

// RejectRideRequest is the HTTP request body for rejecting a ride.
type RejectRideRequest struct {
	DriverID string `json:"driver_id"`
	Reason   string `json:"reason,omitempty"`
}

// StartRideRequest is the HTTP request body for starting a ride.
type StartRideRequest struct {
	DriverID       string          `json:"driver_id"`
	PickupLocation domain.Location `json:"pickup_location"`
}

// CompleteRideRequest is the HTTP request body for completing a ride.
type CompleteRideRequest struct {
	DriverID         string          `json:"driver_id"`
	Dropoff          domain.Location `json:"dropoff"`
	ActualFare       *float64        `json:"actual_fare,omitempty"`
	PaymentConfirmed bool            `json:"payment_confirmed,omitempty"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	Reason   string `json:"reason,omitempty"`
}

// UpdateLocationRequest is the HTTP request body for a driver location update.
type UpdateLocationRequest struct {
	DriverID string          `json:"driver_id"`
	Location domain.Location `json:"location"`
}

// ListRidesResponse is one page of a ride listing.
type ListRidesResponse struct {
	Rides  []*domain.Ride `json:"rides"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// PendingRideResponse is one nearby pending ride.
type PendingRideResponse struct {
	Ride       *domain.Ride `json:"ride"`
	DistanceKm *float64     `json:"distance_km,omitempty"`
}

// CreateRide handles POST /rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.lifecycle.CreateRide(c.Request.Context(), service.CreateRideRequest{
		Passenger:           req.Passenger,
		Pickup:              req.Pickup,
		Destination:         req.Destination,
		EstimatedFare:       req.EstimatedFare,
		EstimatedDistanceKm: req.EstimatedDistanceKm,
		EstimatedTimeMin:    req.EstimatedTimeMin,
		PaymentMethod:       domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ride)
}

// ListRides handles GET /rides
func (h *RideHandler) ListRides(c *gin.Context) {
	filter := repository.ListFilter{
		Status:      domain.RideStatus(c.Query("status")),
		DriverID:    c.Query("driverId"),
		PassengerID: c.Query("passengerId"),
	}

	var err error
	if filter.Since, err = parseDate(c.Query("startDate")); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid startDate"})
		return
	}
	if filter.Until, err = parseDate(c.Query("endDate")); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid endDate"})
		return
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	page, err := h.lifecycle.ListRides(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ListRidesResponse{
		Rides:  page.Rides,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// ListPendingNear handles GET /rides/pending
func (h *RideHandler) ListPendingNear(c *gin.Context) {
	var origin *domain.Location
	if raw := c.Query("driverLocation"); raw != "" {
		loc, err := parseLatLng(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid driverLocation"})
			return
		}
		origin = &loc
	}

	radius := 0.0
	if raw := c.Query("radius"); raw != "" {
		var err error
		if radius, err = strconv.ParseFloat(raw, 64); err != nil || radius < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid radius"})
			return
		}
	}

	nearby, err := h.lifecycle.ListPendingNear(c.Request.Context(), origin, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	rides := make([]PendingRideResponse, 0, len(nearby))
	for _, n := range nearby {
		rides = append(rides, PendingRideResponse{Ride: n.Ride, DistanceKm: n.DistanceKm})
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "count": len(rides)})
}

// GetRide handles GET /rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.lifecycle.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

// AcceptRide handles PUT /rides/:id/accept
func (h *RideHandler) AcceptRide(c *gin.Context) {
	var req AcceptRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.lifecycle.AcceptRide(c.Request.Context(), c.Param("id"), domain.Driver{
		ID:          req.DriverID,
		Name:        req.DriverName,
		Phone:       req.DriverPhone,
		VehicleInfo: req.VehicleInfo,
	}, req.Location)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

// RejectRide handles PUT /rides/:id/reject
func (h *RideHandler) RejectRide(c *gin.Context) {
	var req RejectRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.lifecycle.RejectRide(c.Request.Context(), c.Param("id"), req.DriverID, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// StartRide handles PUT /rides/:id/start
func (h *RideHandler) StartRide(c *gin.Context) {
	var req StartRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.lifecycle.StartRide(c.Request.Context(), c.Param("id"), req.DriverID, req.PickupLocation)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

// CompleteRide handles PUT /rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	var req CompleteRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.lifecycle.CompleteRide(c.Request.Context(), c.Param("id"),
		req.DriverID, req.Dropoff, req.ActualFare, req.PaymentConfirmed)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

// CancelRide handles PUT /rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.lifecycle.CancelRide(c.Request.Context(), c.Param("id"),
		req.UserID, domain.Role(req.UserType), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ride)
}

// UpdateDriverLocation handles PUT /rides/:id/location
func (h *RideHandler) UpdateDriverLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if _, err := h.lifecycle.UpdateDriverLocation(c.Request.Context(), c.Param("id"), req.DriverID, req.Location); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseDate accepts RFC 3339 timestamps or plain dates.
func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// parseLatLng parses a "lat,lng" pair.
func parseLatLng(raw string) (domain.Location, error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return domain.Location{}, service.ErrInvalidLocation
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return domain.Location{}, service.ErrInvalidLocation
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return domain.Location{}, service.ErrInvalidLocation
	}
	loc := domain.Location{Latitude: lat, Longitude: lng}
	if !loc.Valid() {
		return domain.Location{}, service.ErrInvalidLocation
	}
	return loc, nil
}
