// Package health exposes liveness and readiness probes.
package health

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/redis"
)

// Checker reports service health from its backing dependencies
type Checker struct {
	db        database.DB
	redis     *redis.Client
	version   string
	startTime time.Time
	ready     atomic.Bool
}

func NewChecker(db database.DB, redisClient *redis.Client, version string) *Checker {
	return &Checker{
		db:        db,
		redis:     redisClient,
		version:   version,
		startTime: time.Now(),
	}
}

// SetReady flips the readiness probe once startup completes
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Register registers health routes on the root echo instance so probes
// bypass the API group middleware.
func (c *Checker) Register(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

// Status is the health check response
type Status struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Uptime     string           `json:"uptime"`
	Checks     map[string]Check `json:"checks"`
	ReportedAt time.Time        `json:"reported_at"`
}

// Check is one dependency's result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Health pings every backing dependency and reports per-check results
func (c *Checker) Health(ec echo.Context) error {
	ctx := ec.Request().Context()

	status := &Status{
		Status:     "healthy",
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]Check),
		ReportedAt: time.Now().UTC(),
	}

	record := func(name string, err error, latency time.Duration) {
		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = Check{Status: "unhealthy", Message: err.Error()}
			return
		}
		status.Checks[name] = Check{Status: "healthy", Latency: latency.String()}
	}

	start := time.Now()
	record("database", c.db.PingContext(ctx), time.Since(start))

	if c.redis != nil {
		start = time.Now()
		record("redis", c.redis.Ping(ctx), time.Since(start))
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return ec.JSON(code, status)
}

// Live reports that the process is running
func (c *Checker) Live(ec echo.Context) error {
	return ec.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready reports whether startup has completed
func (c *Checker) Ready(ec echo.Context) error {
	if c.ready.Load() {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ec.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
