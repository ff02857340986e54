package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractCaller identifies who issued an admin request, for audit
// trail purposes on revoke/grant endpoints. Priority:
// X-Forwarded-User > X-Forwarded-Email > "admin-api", matching the
// oauth2-proxy-fronted header convention the forwarded/orchestrated
// authorization modes already rely on.
func extractCaller(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "admin-api"
}
