package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/middleware"
	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/repository"
)

type quickReplyRequest struct {
	Title string `json:"title" binding:"required"`
	Body  string `json:"body" binding:"required"`
}

func (h *Handlers) listQuickReplies(c *gin.Context) {
	agent := middleware.CurrentAgent(c)
	replies, err := h.QuickReplies.ListByAgent(c.Request.Context(), agent.ID)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quick_replies": replies})
}

func (h *Handlers) createQuickReply(c *gin.Context) {
	var req quickReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	agent := middleware.CurrentAgent(c)
	qr := &models.QuickReply{AgentID: agent.ID, Title: req.Title, Body: req.Body}
	if err := h.QuickReplies.Create(c.Request.Context(), qr); err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": qr.ID})
}

func (h *Handlers) updateQuickReply(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req quickReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}
	agent := middleware.CurrentAgent(c)
	qr := &models.QuickReply{ID: id, AgentID: agent.ID, Title: req.Title, Body: req.Body}
	err := h.QuickReplies.Update(c.Request.Context(), qr)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, repository.ErrQuickReplyNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	default:
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}

func (h *Handlers) deleteQuickReply(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	agent := middleware.CurrentAgent(c)
	err := h.QuickReplies.Delete(c.Request.Context(), id, agent.ID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, repository.ErrQuickReplyNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	default:
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}

// stats serves the counting-only statistics snapshot.
func (h *Handlers) stats(c *gin.Context) {
	snap, err := h.Stats.Snapshot(c.Request.Context())
	if err != nil {
		h.Logger.Error("stats snapshot failed", "error", err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, snap)
}
