package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/auth"
	"github.com/goatkit/goatchat/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login verifies credentials and issues the agent's bearer token. The
// token doubles as the websocket handshake credential.
func (h *Handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	agent, err := h.Agents.GetByUsername(c.Request.Context(), req.Username)
	if err != nil || !agent.Enabled || !auth.CheckPassword(agent.PasswordHash, req.Password) {
		apierrors.Error(c, apierrors.CodeUnauthorized)
		return
	}

	token, err := h.JWT.Issue(c.Request.Context(), agent.ID)
	if err != nil {
		h.Logger.Error("token issue failed", "agent_id", agent.ID, "error", err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"agent": gin.H{
			"id":           agent.ID,
			"username":     agent.Username,
			"display_name": agent.DisplayName,
			"is_admin":     agent.Admin,
			"capacity":     agent.Capacity,
		},
	})
}

// logout revokes the agent's token.
func (h *Handlers) logout(c *gin.Context) {
	agent := middleware.CurrentAgent(c)
	if err := h.JWT.Revoke(c.Request.Context(), agent.ID); err != nil {
		h.Logger.Warn("token revoke failed", "agent_id", agent.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
