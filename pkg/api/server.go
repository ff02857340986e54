// Package api provides the HTTP admin/health surface for mcpcored:
// a health check plus session/approval introspection endpoints for
// operators, built on Echo v5. It is deliberately separate from the
// MCP protocol surface itself, which pkg/transport and pkg/flow own.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/codeready-toolchain/mcpcore/pkg/approval"
	"github.com/codeready-toolchain/mcpcore/pkg/audit"
	"github.com/codeready-toolchain/mcpcore/pkg/session"
	"github.com/codeready-toolchain/mcpcore/pkg/storage"
)

// Server is the HTTP admin/health server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	storageAdapter storage.Adapter
	sessions       *session.Store
	approvals      *approval.Store
	auditStore     audit.Store // nil if audit persistence is disabled

	startedAt time.Time
}

// NewServer creates a new admin/health API server with Echo v5.
// auditStore may be nil when audit.enabled is false.
func NewServer(storageAdapter storage.Adapter, sessions *session.Store, approvals *approval.Store, auditStore audit.Store) *Server {
	e := echo.New()
	e.Use(securityHeaders())
	e.Use(middleware.BodyLimit(64 * 1024))

	s := &Server{
		echo:           e,
		storageAdapter: storageAdapter,
		sessions:       sessions,
		approvals:      approvals,
		auditStore:     auditStore,
		startedAt:      time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.revokeSessionHandler)
	v1.GET("/approvals", s.listApprovalsHandler)
	v1.POST("/approvals/revoke", s.revokeApprovalHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	rec, err := s.sessions.Get(c.Request().Context(), c.Param("id"), session.GetOptions{})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// revokeSessionHandler handles DELETE /api/v1/sessions/:id. It removes
// the session record and clears every approval grant scoped to it, so
// a revoked session cannot be resumed through a stale tool allowlist.
func (s *Server) revokeSessionHandler(c *echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if err := s.sessions.Delete(ctx, id); err != nil {
		return mapError(err)
	}

	cleared, err := s.approvals.ClearSessionApprovals(ctx, id)
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"revokedBy":        extractCaller(c),
		"approvalsCleared": cleared,
	})
}

// listApprovalsHandler handles GET /api/v1/approvals?session_id=&user_id=&tool_id=.
func (s *Server) listApprovalsHandler(c *echo.Context) error {
	q := approval.Query{
		SessionID: c.QueryParam("session_id"),
		UserID:    c.QueryParam("user_id"),
		ToolID:    c.QueryParam("tool_id"),
	}
	records, err := s.approvals.QueryApprovals(c.Request().Context(), q)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, records)
}

// revokeApprovalRequest is the body of POST /api/v1/approvals/revoke.
type revokeApprovalRequest struct {
	ToolID    string `json:"toolId"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason"`
}

// revokeApprovalHandler handles POST /api/v1/approvals/revoke.
func (s *Server) revokeApprovalHandler(c *echo.Context) error {
	var body revokeApprovalRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	found, err := s.approvals.RevokeApproval(c.Request().Context(), approval.RevokeRequest{
		ToolID:    body.ToolID,
		SessionID: body.SessionID,
		UserID:    body.UserID,
		RevokedBy: extractCaller(c),
		Reason:    body.Reason,
	})
	if err != nil {
		return mapError(err)
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no matching approval grant")
	}

	return c.NoContent(http.StatusNoContent)
}
