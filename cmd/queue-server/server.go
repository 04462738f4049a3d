package main

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medqueue/medqueue/internal/config"
	"github.com/medqueue/medqueue/internal/engine"
	"github.com/medqueue/medqueue/internal/platform/auth"
	"github.com/medqueue/medqueue/internal/platform/db"
	"github.com/medqueue/medqueue/internal/platform/middleware"
	"github.com/medqueue/medqueue/internal/platform/websocket"
)

// newEcho builds the HTTP surface. pool and feed are nil for the memory store.
func newEcho(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, feed db.FeedStatus, hub *websocket.Hub, eng *engine.Engine) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = engine.HTTPErrorHandler(logger)

	// Recovery sits inside Logger so a recovered panic is rendered and
	// logged with its final status.
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool, feed))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(auth.StaffIdentity([]byte(cfg.AuthSigningKey), logger))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1)
	engine.NewHandler(eng, logger).RegisterRoutes(apiV1)

	return e
}
