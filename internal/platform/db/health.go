package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const (
	storeMemory   = "memory"
	storePostgres = "postgres"
	pingTimeout   = 5 * time.Second
)

// FeedStatus is satisfied by *Listener.
type FeedStatus interface {
	Connected() bool
}

// PoolStats is the connection pool summary reported by /health/db.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireWait   string `json:"acquire_wait"`
}

// HealthReport is the /health/db body. ChangeFeed is omitted for the memory
// store, which has no other writers to hear from.
type HealthReport struct {
	Status     string     `json:"status"`
	Store      string     `json:"store"`
	Error      string     `json:"error,omitempty"`
	ChangeFeed *bool      `json:"change_feed,omitempty"`
	Pool       *PoolStats `json:"pool,omitempty"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireWait:   stat.AcquireDuration().String(),
	}
}

// Check pings pool and reads the change feed state. A nil pool means the
// memory driver, which is always healthy. A disconnected feed degrades the
// report without failing it: writes still land, only cross-process
// freshness suffers.
func Check(ctx context.Context, pool *pgxpool.Pool, feed FeedStatus) (HealthReport, bool) {
	if pool == nil {
		return HealthReport{Status: "healthy", Store: storeMemory}, true
	}

	report := HealthReport{Status: "healthy", Store: storePostgres, Pool: poolStats(pool)}
	if feed != nil {
		up := feed.Connected()
		report.ChangeFeed = &up
		if !up {
			report.Status = "degraded"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		report.Status = "unhealthy"
		report.Error = err.Error()
		return report, false
	}
	return report, true
}

// HealthHandler serves Check as JSON, 503 when the store is unreachable.
func HealthHandler(pool *pgxpool.Pool, feed FeedStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		report, ok := Check(c.Request().Context(), pool, feed)
		if !ok {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
