package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/admission"
	"dispatch/internal/handler"
	"dispatch/internal/metrics"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler *handler.RideHandler
	Gateway     *handler.SocketGateway
	Gate        *admission.Gate
	Metrics     *metrics.Metrics
	RedisClient *redis.Client
	NewRelicApp *newrelic.Application
}

// NewRouter creates a Gin router with all routes registered. Mutating ride
// routes pass through the admission gate and, when Redis is wired, the
// idempotency replay layer.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", deps.Gateway.Serve)

	rides := router.Group("/rides")
	rides.Use(middleware.RateLimit(deps.Gate, deps.Metrics))
	if deps.RedisClient != nil {
		rides.Use(middleware.Idempotency(deps.RedisClient))
	}
	{
		rides.POST("", deps.RideHandler.CreateRide)
		rides.GET("", deps.RideHandler.ListRides)
		rides.GET("/pending", deps.RideHandler.ListPendingNear)
		rides.GET("/:id", deps.RideHandler.GetRide)
		rides.PUT("/:id/accept", deps.RideHandler.AcceptRide)
		rides.PUT("/:id/reject", deps.RideHandler.RejectRide)
		rides.PUT("/:id/start", deps.RideHandler.StartRide)
		rides.PUT("/:id/complete", deps.RideHandler.CompleteRide)
		rides.PUT("/:id/cancel", deps.RideHandler.CancelRide)
		rides.PUT("/:id/location", deps.RideHandler.UpdateDriverLocation)
	}

	return router
}
