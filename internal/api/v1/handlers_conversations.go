package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/goatchat/internal/apierrors"
	"github.com/goatkit/goatchat/internal/dispatch"
	"github.com/goatkit/goatchat/internal/middleware"
	"github.com/goatkit/goatchat/internal/models"
	"github.com/goatkit/goatchat/internal/repository"
)

// listConversations returns the caller's open conversations with
// unread counts.
func (h *Handlers) listConversations(c *gin.Context) {
	agent := middleware.CurrentAgent(c)
	convs, err := h.Convs.OpenByAgent(c.Request.Context(), agent.ID)
	if err != nil {
		h.Logger.Error("conversation list failed", "agent_id", agent.ID, "error", err)
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}

	out := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		unread, err := h.Convs.UnreadCount(c.Request.Context(), conv.ID, models.SenderCustomer)
		if err != nil {
			unread = 0
		}
		entry := gin.H{
			"id":           conv.ID,
			"customer_id":  conv.CustomerID,
			"status":       conv.Status.String(),
			"unread_count": unread,
			"created_at":   conv.CreateTime,
		}
		if customer, err := h.Customers.GetByID(c.Request.Context(), conv.CustomerID); err == nil {
			entry["customer_uuid"] = customer.UUID
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// waitingQueue returns the unassigned queue, oldest first.
func (h *Handlers) waitingQueue(c *gin.Context) {
	convs, err := h.Convs.WaitingQueue(c.Request.Context(), 100)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	out := make([]gin.H, 0, len(convs))
	for _, conv := range convs {
		out = append(out, gin.H{
			"id":          conv.ID,
			"customer_id": conv.CustomerID,
			"created_at":  conv.CreateTime,
		})
	}
	c.JSON(http.StatusOK, gin.H{"waiting": out})
}

// conversationMessages returns the full history. Only the assigned
// agent or an admin may read it.
func (h *Handlers) conversationMessages(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	agent := middleware.CurrentAgent(c)
	conv, err := h.Convs.GetByID(c.Request.Context(), id)
	if err != nil {
		apierrors.Error(c, apierrors.CodeNotFound)
		return
	}
	if !agent.Admin && !conv.AssignedTo(agent.ID) {
		apierrors.Error(c, apierrors.CodeForbidden)
		return
	}

	msgs, err := h.Convs.Messages(c.Request.Context(), id)
	if err != nil {
		apierrors.Error(c, apierrors.CodeInternalError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// closeConversation closes through the dispatcher so both sides get
// their conversation_closed frames and the freed capacity drains the
// queue. Admins may close any conversation.
func (h *Handlers) closeConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	agent := middleware.CurrentAgent(c)
	err := h.Dispatcher.CloseConversation(c.Request.Context(), agent.ID, id, agent.Admin)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, repository.ErrConversationNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	case errors.Is(err, dispatch.ErrNotOwner):
		apierrors.Error(c, apierrors.CodeForbidden)
	default:
		h.Logger.Error("close failed", "conversation_id", id, "error", err)
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}

type transferRequest struct {
	TargetAgentID int64  `json:"target_agent_id" binding:"required"`
	Reason        string `json:"reason"`
}

// transferConversation performs a manual transfer. Conflicts come back
// as 200 success=false so the admin UI can render them inline.
func (h *Handlers) transferConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.Error(c, apierrors.CodeInvalidRequest)
		return
	}

	agent := middleware.CurrentAgent(c)
	conv, err := h.Convs.GetByID(c.Request.Context(), id)
	if err != nil {
		apierrors.Error(c, apierrors.CodeNotFound)
		return
	}
	// Agents may hand off their own conversations; admins may force
	// any transfer.
	if !agent.Admin && !conv.AssignedTo(agent.ID) {
		apierrors.Error(c, apierrors.CodeForbidden)
		return
	}

	operatorID := agent.ID
	err = h.Dispatcher.Transfer(c.Request.Context(), id, req.TargetAgentID,
		models.TransferManual, &operatorID, req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, repository.ErrConversationClosed):
		apierrors.Conflict(c, apierrors.CodeConversationClosed)
	case errors.Is(err, dispatch.ErrSameAgent):
		apierrors.Conflict(c, apierrors.CodeSameAgent)
	case errors.Is(err, dispatch.ErrTargetOffline):
		apierrors.Conflict(c, apierrors.CodeTargetOffline)
	case errors.Is(err, dispatch.ErrTargetFull):
		apierrors.Conflict(c, apierrors.CodeTargetFull)
	case errors.Is(err, dispatch.ErrTargetDisabled):
		apierrors.Conflict(c, apierrors.CodeTargetDisabled)
	case errors.Is(err, dispatch.ErrTargetNotFound), errors.Is(err, dispatch.ErrTransferNoAgent):
		apierrors.Error(c, apierrors.CodeNotFound)
	default:
		h.Logger.Error("transfer failed", "conversation_id", id, "error", err)
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}

// markRead flips the customer messages to read and notifies the
// customer, mirroring the streaming read frame.
func (h *Handlers) markRead(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	agent := middleware.CurrentAgent(c)
	err := h.Dispatcher.HandleRead(c.Request.Context(),
		agentPrincipal(agent.ID), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, repository.ErrConversationNotFound):
		apierrors.Error(c, apierrors.CodeNotFound)
	case errors.Is(err, dispatch.ErrNotOwner):
		apierrors.Error(c, apierrors.CodeForbidden)
	default:
		apierrors.Error(c, apierrors.CodeInternalError)
	}
}
