// Package v1 is the admin HTTP surface: login, agent administration,
// conversation management and statistics. Every mutating route
// delegates to the dispatcher so websocket fan-out happens exactly as
// it would for streaming-originated events.
package v1

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/auth"
	"github.com/goatkit/goatchat/internal/dispatch"
	"github.com/goatkit/goatchat/internal/middleware"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

// Handlers bundles the dependencies of the v1 routes.
type Handlers struct {
	Agents       repository.AgentRepository
	Customers    repository.CustomerRepository
	Convs        repository.ConversationRepository
	QuickReplies repository.QuickReplyRepository
	Stats        repository.StatsRepository
	Dispatcher   *dispatch.Dispatcher
	JWT          *auth.JWTManager
	Registry     *registry.Registry
	Logger       *slog.Logger
}

// Register mounts the v1 API on the router.
func Register(r *gin.Engine, h *Handlers) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}

	api := r.Group("/api/v1")
	api.POST("/auth/login", h.login)

	authed := api.Group("")
	authed.Use(middleware.AgentAuth(h.JWT, h.Agents))
	{
		authed.POST("/auth/logout", h.logout)

		authed.GET("/conversations", h.listConversations)
		authed.GET("/conversations/waiting", h.waitingQueue)
		authed.GET("/conversations/:id/messages", h.conversationMessages)
		authed.POST("/conversations/:id/close", h.closeConversation)
		authed.POST("/conversations/:id/transfer", h.transferConversation)
		authed.POST("/conversations/:id/read", h.markRead)

		authed.GET("/quick-replies", h.listQuickReplies)
		authed.POST("/quick-replies", h.createQuickReply)
		authed.PUT("/quick-replies/:id", h.updateQuickReply)
		authed.DELETE("/quick-replies/:id", h.deleteQuickReply)

		admin := authed.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/agents", h.listAgents)
			admin.POST("/agents", h.createAgent)
			admin.PUT("/agents/:id", h.updateAgent)
			admin.GET("/stats", h.stats)
		}
	}
}

// agentPrincipal wraps an agent id for dispatcher calls originating
// from HTTP.
func agentPrincipal(agentID int64) registry.Principal {
	return registry.Principal{Kind: registry.PrincipalAgent, ID: agentID}
}

// idParam parses the :id path segment.
func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.Error(c, apierrors.CodeInvalidID)
		return 0, false
	}
	return id, true
}
