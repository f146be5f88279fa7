package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

// NegotiationHandler exposes the admission controller to negotiators running
// out of process.
type NegotiationHandler struct {
	controller *limiter.Controller
	logger     *zap.Logger
}

func NewNegotiationHandler(controller *limiter.Controller, logger *zap.Logger) *NegotiationHandler {
	return &NegotiationHandler{controller: controller, logger: logger}
}

type evaluateRequest struct {
	Job     model.Job     `json:"job"`
	Machine model.Machine `json:"machine"`
}

type exhaustedRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

func (h *NegotiationHandler) BeginPass(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"pass_id": h.controller.BeginPass()})
}

func (h *NegotiationHandler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.controller.Evaluate(req.Job, req.Machine))
}

func (h *NegotiationHandler) Exhausted(c *gin.Context) {
	var req exhaustedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	tags := h.controller.JobExhausted(req.JobID)
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"job_id": req.JobID, "ignored": tags})
}

func (h *NegotiationHandler) Commit(c *gin.Context) {
	h.release(c, h.controller.Commit)
}

func (h *NegotiationHandler) Rollback(c *gin.Context) {
	h.release(c, h.controller.Rollback)
}

func (h *NegotiationHandler) release(c *gin.Context, fn func(uint64) error) {
	ticket, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}
	if err := fn(ticket); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
