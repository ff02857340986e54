package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/mcpcore/pkg/audit"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// dbHealthChecker is implemented by audit.PostgresStore. Checked via a
// type assertion so the health handler works whether audit persistence
// is disabled, backed by audit.MemoryStore, or backed by Postgres.
type dbHealthChecker interface {
	DB() *sql.DB
}

// HealthCheck is one named subsystem's status.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Uptime  string                 `json:"uptime"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// healthHandler handles GET /health. It checks the storage adapter
// (session/authz/approval state) and, when audit persistence is
// Postgres-backed, the audit database connection. A client of the
// health check never sees more than "healthy"/"degraded"/"unhealthy"
// plus a short message — no stack traces, no connection strings.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if _, err := s.storageAdapter.Exists(reqCtx, "__health__"); err != nil {
		status = healthStatusUnhealthy
		checks["storage"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["storage"] = HealthCheck{Status: healthStatusHealthy}
	}

	if checker, ok := s.auditStore.(dbHealthChecker); ok {
		dbStatus, err := audit.Health(reqCtx, checker.DB())
		if err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["audit"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["audit"] = HealthCheck{Status: dbStatus.Status}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status: status,
		Uptime: time.Since(s.startedAt).String(),
		Checks: checks,
	})
}
