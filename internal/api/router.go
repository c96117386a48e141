package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"parking-status-backend/config"
	"parking-status-backend/internal/mw"
)

// RouterOptions carries the server-level settings of NewRouter.
type RouterOptions struct {
	Server  config.ServerConfig
	Metrics config.MetricsConfig
	// Live serves the slot event stream; nil disables /ws/slots.
	Live http.Handler
}

// NewRouter creates and configures a new Gin router. Limiter bookkeeping runs
// until ctx is done.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestID(), mw.AccessLog(h.log))

	general := mw.NewIPRateLimiter(rate.Limit(opts.Server.RateLimitPerSec), opts.Server.RateLimitBurst)
	codes := mw.NewIPRateLimiter(rate.Limit(opts.Server.CodeRateLimitPerSec), opts.Server.CodeRateLimitBurst)
	go general.Run(ctx, time.Minute)
	go codes.Run(ctx, time.Minute)
	codeLimit := mw.RateLimiter(codes)

	ttl := time.Duration(opts.Server.CacheTTLSeconds) * time.Second
	caching := mw.Cache(mw.NewCacheStore(ttl), ttl)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if opts.Metrics.Enabled {
		r.GET(opts.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
	if opts.Live != nil {
		r.GET("/ws/slots", gin.WrapH(opts.Live))
	}

	api := r.Group("/api")
	api.Use(mw.RateLimiter(general))
	{
		slots := api.Group("/slots")
		slots.GET("", h.ListSlots)
		slots.POST("", h.CreateSlot)
		slots.POST("/occupancy", h.UpdateOccupancy)
		slots.GET("/:id", h.GetSlot)
		slots.PUT("/:id/activate", h.ActivateSlot)
		slots.PUT("/:id/deactivate", h.DeactivateSlot)
		slots.POST("/:id/notify", h.NotifySlot)

		res := api.Group("/reservations")
		res.POST("", codeLimit, h.CreateReservation)
		res.GET("/availability", h.Availability)
		res.GET("/:id", h.GetReservation)
		res.POST("/:id/confirm", codeLimit, withCode(h.reservations.Confirm))
		res.POST("/:id/cancel", codeLimit, withCode(h.reservations.Cancel))
		res.POST("/:id/checkin", codeLimit, withCode(h.reservations.Checkin))

		stats := api.Group("/stats", caching)
		stats.GET("/hours", h.StatsHours)
		stats.GET("/daily", h.StatsDaily)
		stats.GET("/heatmap", h.StatsHeatmap)
		stats.GET("/top-slots", h.StatsTopSlots)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
