package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delivery/internal/handler"
	"delivery/internal/middleware"
	"delivery/internal/presence"
	"delivery/internal/realtime"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	DeliveryHandler *handler.DeliveryHandler
	ConflictHandler *handler.ConflictHandler
	DriverHandler   *handler.DriverHandler
	UserHandler     *handler.UserHandler
	SettingsHandler *handler.SettingsHandler
	Hub             *realtime.Hub
	Verifier        *middleware.Verifier
	Responses       middleware.ResponseStore
	Gatherer        prometheus.Gatherer
	AllowedOrigins  []string
	NewRelicApp     *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))
	router.Use(middleware.NewRelicMiddleware(deps.NewRelicApp))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	authed := []gin.HandlerFunc{middleware.AuthMiddleware(deps.Verifier), middleware.NewRelicCaller()}

	// Live channels. The handshake is a GET, so idempotency does not apply.
	live := router.Group("/ws", authed...)
	{
		live.GET("/delivery", serveLive(deps.Hub, presence.NamespaceDelivery))
		live.GET("/conflict", serveLive(deps.Hub, presence.NamespaceConflict))
	}

	v1 := router.Group("/v1", authed...)
	if deps.Responses != nil {
		v1.Use(middleware.IdempotencyMiddleware(deps.Responses, nil))
	}
	{
		users := v1.Group("/users")
		{
			users.POST("", deps.UserHandler.Register)
			users.GET("/me", deps.UserHandler.Me)
			users.PUT("/me/push-token", deps.UserHandler.UpdatePushToken)
		}

		deliveries := v1.Group("/deliveries")
		{
			deliveries.POST("", deps.DeliveryHandler.Create)
			deliveries.GET("/:id", deps.DeliveryHandler.Get)
			deliveries.POST("/:id/accept", deps.DeliveryHandler.Accept)
			deliveries.POST("/:id/arrival", deps.DeliveryHandler.SignalArrival)
			deliveries.POST("/:id/confirm", deps.DeliveryHandler.ConfirmDeposit)
			deliveries.POST("/:id/terminate", deps.DeliveryHandler.Terminate)
			deliveries.POST("/:id/cancel", deps.DeliveryHandler.Cancel)
			deliveries.POST("/:id/conflicts", deps.ConflictHandler.Report)
		}

		conflicts := v1.Group("/conflicts")
		{
			conflicts.GET("/unassigned", deps.ConflictHandler.ListUnassigned)
			conflicts.GET("/:id", deps.ConflictHandler.Get)
			conflicts.POST("/:id/assign", deps.ConflictHandler.Assign)
			conflicts.POST("/:id/resolve", deps.ConflictHandler.Resolve)
			conflicts.POST("/:id/cancel", deps.ConflictHandler.Cancel)
		}

		drivers := v1.Group("/drivers")
		{
			drivers.POST("/position", deps.DriverHandler.UpdateLocation)
			drivers.POST("/offline", deps.DriverHandler.GoOffline)
		}

		v1.GET("/settings", deps.SettingsHandler.Get)
		v1.PUT("/settings", deps.SettingsHandler.Update)
	}

	return router
}

func serveLive(hub *realtime.Hub, ns presence.Namespace) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := middleware.CallerFrom(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		hub.Serve(c.Writer, c.Request, ns, caller)
	}
}
