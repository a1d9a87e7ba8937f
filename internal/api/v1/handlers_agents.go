package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/auth"
	"github.com/goatkit/goatchat/internal/models"
)

// listAgents returns all agent accounts with live presence.
func (h *Handlers) listAgents(c *gin.Context) {
	agents, err := h.Agents.List(c.Request.Context())
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	out := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		out = append(out, gin.H{
			"id":           a.ID,
			"username":     a.Username,
			"display_name": a.DisplayName,
			"capacity":     a.Capacity,
			"enabled":      a.Enabled,
			"is_admin":     a.Admin,
			"status":       h.Registry.AgentStatus(a.ID).String(),
			"alive":        h.Registry.IsAlive(a.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

type agentRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Capacity    int    `json:"capacity"`
	Enabled     *bool  `json:"enabled"`
	Admin       *bool  `json:"is_admin"`
}

// createAgent provisions a new agent account.
func (h *Handlers) createAgent(c *gin.Context) {
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	agent := &models.Agent{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		Capacity:     req.Capacity,
		Enabled:      req.Enabled == nil || *req.Enabled,
		Admin:        req.Admin != nil && *req.Admin,
	}
	if agent.DisplayName == "" {
		agent.DisplayName = req.Username
	}
	if err := h.Agents.Create(c.Request.Context(), agent); err != nil {
		h.Logger.Error("agent create failed", "username", req.Username, "error", err)
		apierrors.Error(c, apierrors.CodeConflict)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": agent.ID})
}

// updateAgent mutates display name, capacity and flags.
func (h *Handlers) updateAgent(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req agentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	agent, err := h.Agents.GetByID(c.Request.Context(), id)
	if err != nil {
		apierrors.Error(c, apierrors.CodeNotFound)
		return
	}
	if req.DisplayName != "" {
		agent.DisplayName = req.DisplayName
	}
	if req.Capacity > 0 {
		agent.Capacity = req.Capacity
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}
	if req.Admin != nil {
		agent.Admin = *req.Admin
	}
	if err := h.Agents.Update(c.Request.Context(), agent); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
