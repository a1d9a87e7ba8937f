// Package middleware provides the gin middleware for the admin HTTP
// surface.
package middleware

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/repository"
)

// debugLog logs only when LOG_LEVEL=debug
func debugLog(format string, v ...interface{}) {
	if os.Getenv("LOG_LEVEL") == "debug" {
		log.Printf(format, v...)
	}
}

// TokenVerifier validates a bearer token and yields the agent id.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (int64, error)
}

// AgentAuth authenticates admin-surface requests with an agent bearer
// token and loads the agent record into the request context.
func AgentAuth(verifier TokenVerifier, agents repository.AgentRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			c.Abort()
			return
		}

		agentID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			debugLog("auth: token rejected: %v", err)
			apierrors.Error(c, apierrors.CodeInvalidToken)
			c.Abort()
			return
		}

		agent, err := agents.GetByID(c.Request.Context(), agentID)
		if err != nil || !agent.Enabled {
			apierrors.Error(c, apierrors.CodeForbidden)
			c.Abort()
			return
		}

		c.Set("agent", agent)
		c.Set("agent_id", agent.ID)
		c.Next()
	}
}

// RequireAdmin rejects non-admin agents. Must run after AgentAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		agent := CurrentAgent(c)
		if agent == nil || !agent.Admin {
			apierrors.Error(c, apierrors.CodeForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentAgent returns the authenticated agent, or nil outside an
// AgentAuth-guarded route.
func CurrentAgent(c *gin.Context) *models.Agent {
	val, ok := c.Get("agent")
	if !ok {
		return nil
	}
	agent, _ := val.(*models.Agent)
	return agent
}

// extractToken pulls the bearer token from the Authorization header or
// the token query parameter.
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
