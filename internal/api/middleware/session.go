package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Jackela/Novel-Engine-sub019/internal/domain/workspace"
	"github.com/Jackela/Novel-Engine-sub019/internal/infrastructure/monitoring"
	"github.com/Jackela/Novel-Engine-sub019/internal/shared/id"
)

const (
	// SessionCookie carries the opaque session token in browsers.
	SessionCookie = "novel_session"
	// SessionHeader is the non-cookie alternative for API clients.
	SessionHeader = "X-Session-Token"
	// workspaceKey is the gin context key holding the resolved workspace id.
	workspaceKey = "workspace_id"

	cookieMaxAge = 30 * 24 * 60 * 60
)

// Session resolves the inbound session token to a workspace before any
// entity endpoint runs. A missing, unknown, or expired token provisions a
// fresh workspace and (re)issues the cookie; the new token also comes back in
// the response header for clients that do not keep a cookie jar.
func Session(manager *workspace.Manager, metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(SessionHeader)
		if token == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				token = cookie
			}
		}

		resolution, err := manager.ResolveSession(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session resolution failed"})
			c.Abort()
			return
		}

		if resolution.Created {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, resolution.Token, cookieMaxAge, "/", "", false, true)
			c.Header(SessionHeader, resolution.Token)
			if metrics != nil {
				metrics.SessionsResolved.WithLabelValues("created").Inc()
				metrics.WorkspacesCreated.Inc()
			}
		} else if metrics != nil {
			metrics.SessionsResolved.WithLabelValues("hit").Inc()
		}

		c.Set(workspaceKey, resolution.WorkspaceID)
		c.Next()
	}
}

// WorkspaceID returns the workspace id resolved by the Session middleware.
func WorkspaceID(c *gin.Context) (id.WorkspaceID, bool) {
	value, ok := c.Get(workspaceKey)
	if !ok {
		return "", false
	}
	wsID, ok := value.(id.WorkspaceID)
	return wsID, ok
}
