package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/engine"
	"github.com/garyjia/approval-engine/internal/models"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(eng *engine.Engine, logger *zap.Logger) *Handlers {
	return &Handlers{
		engine: eng,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateChainRequest is the body for POST /api/v1/chains
type CreateChainRequest struct {
	Name                 string                      `json:"name" binding:"required"`
	Description          string                      `json:"description"`
	Levels               []models.ApprovalLevel      `json:"levels" binding:"required"`
	EscalationRules      []models.EscalationRule     `json:"escalation_rules"`
	NotificationSettings models.NotificationSettings `json:"notification_settings"`
}

// UpdateChainRequest is the body for PUT /api/v1/chains/:id
type UpdateChainRequest struct {
	Name                 *string                      `json:"name"`
	Description          *string                      `json:"description"`
	Levels               []models.ApprovalLevel       `json:"levels"`
	EscalationRules      []models.EscalationRule      `json:"escalation_rules"`
	NotificationSettings *models.NotificationSettings `json:"notification_settings"`
}

// CreateApprovalRequest is the body for POST /api/v1/requests
type CreateApprovalRequest struct {
	ChainID          string `json:"chain_id" binding:"required"`
	ResourceType     string `json:"resource_type" binding:"required"`
	ResourceID       string `json:"resource_id" binding:"required"`
	ResourceName     string `json:"resource_name"`
	RequestedBy      string `json:"requested_by" binding:"required"`
	RequestedByEmail string `json:"requested_by_email"`
}

// DecisionRequest is the body for approve/reject calls
type DecisionRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Comment   string `json:"comment"`
	UserEmail string `json:"user_email"`
}

// EscalateRequest is the body for POST /api/v1/requests/:id/escalate
type EscalateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"status": "healthy"},
	})
}

// CreateChain handles POST /api/v1/chains
func (h *Handlers) CreateChain(c *gin.Context) {
	var req CreateChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	chain, err := h.engine.CreateChain(engine.ChainSpec{
		Name:                 req.Name,
		Description:          req.Description,
		Levels:               req.Levels,
		EscalationRules:      req.EscalationRules,
		NotificationSettings: req.NotificationSettings,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: chain})
}

// ListChains handles GET /api/v1/chains
func (h *Handlers) ListChains(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.engine.ListChains()})
}

// GetChain handles GET /api/v1/chains/:id
func (h *Handlers) GetChain(c *gin.Context) {
	chain, ok := h.engine.GetChain(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "chain not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: chain})
}

// UpdateChain handles PUT /api/v1/chains/:id
func (h *Handlers) UpdateChain(c *gin.Context) {
	var req UpdateChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	chain, err := h.engine.UpdateChain(c.Param("id"), engine.ChainUpdate{
		Name:                 req.Name,
		Description:          req.Description,
		Levels:               req.Levels,
		EscalationRules:      req.EscalationRules,
		NotificationSettings: req.NotificationSettings,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: chain})
}

// DeleteChain handles DELETE /api/v1/chains/:id
func (h *Handlers) DeleteChain(c *gin.Context) {
	deleted, err := h.engine.DeleteChain(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "chain not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// CreateRequest handles POST /api/v1/requests. An open request for the
// same resource is refused to prevent duplicate sign-off processes.
func (h *Handlers) CreateRequest(c *gin.Context) {
	var req CreateApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	for _, existing := range h.engine.GetRequestsByResource(req.ResourceType, req.ResourceID) {
		if existing.Status.IsOpen() {
			c.JSON(http.StatusConflict, Response{
				Success: false,
				Error:   "an open approval request already exists for this resource",
			})
			return
		}
	}

	out, err := h.engine.CreateRequest(engine.RequestSpec{
		ChainID:          req.ChainID,
		ResourceType:     req.ResourceType,
		ResourceID:       req.ResourceID,
		ResourceName:     req.ResourceName,
		RequestedBy:      req.RequestedBy,
		RequestedByEmail: req.RequestedByEmail,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: out})
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	req, ok := h.engine.GetRequest(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "request not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	var body DecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	out, err := h.engine.Approve(c.Param("id"), body.UserID, body.Comment, body.UserEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// Reject handles POST /api/v1/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	var body DecisionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	out, err := h.engine.Reject(c.Param("id"), body.UserID, body.Comment, body.UserEmail)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// Escalate handles POST /api/v1/requests/:id/escalate
func (h *Handlers) Escalate(c *gin.Context) {
	var body EscalateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, err)
		return
	}

	out, err := h.engine.Escalate(c.Param("id"), body.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// Cancel handles POST /api/v1/requests/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) {
	out, err := h.engine.Cancel(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetProgress handles GET /api/v1/requests/:id/progress
func (h *Handlers) GetProgress(c *gin.Context) {
	progress, err := h.engine.GetApprovalProgress(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: progress})
}

// GetPendingApprovals handles GET /api/v1/pending-approvals
func (h *Handlers) GetPendingApprovals(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id is required"})
		return
	}
	role := c.Query("role")

	out := h.engine.GetPendingApprovals(userID, role)
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetRequestsByResource handles GET /api/v1/requests
func (h *Handlers) GetRequestsByResource(c *gin.Context) {
	resourceType := c.Query("resource_type")
	resourceID := c.Query("resource_id")
	if resourceType == "" || resourceID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "resource_type and resource_id are required"})
		return
	}

	out := h.engine.GetRequestsByResource(resourceType, resourceID)
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// CanUserApprove handles GET /api/v1/requests/:id/can-approve
func (h *Handlers) CanUserApprove(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "user_id is required"})
		return
	}

	allowed, err := h.engine.CanUserApprove(c.Param("id"), userID, c.Query("role"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"can_approve": allowed}})
}

// badRequest reports a malformed request body or query.
func (h *Handlers) badRequest(c *gin.Context, err error) {
	h.logger.Warn("Invalid request payload", zap.Error(err))
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request payload"})
}

// writeError maps engine errors to HTTP status codes.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrValidation):
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
	default:
		h.logger.Error("Unhandled engine error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
	}
}
