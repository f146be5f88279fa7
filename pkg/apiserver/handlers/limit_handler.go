package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-bexpr"
	"go.uber.org/zap"

	"github.com/flowforge/startlimit/pkg/limiter"
	"github.com/flowforge/startlimit/pkg/model"
)

type LimitHandler struct {
	registry *limiter.Registry
	logger   *zap.Logger
}

func NewLimitHandler(registry *limiter.Registry, logger *zap.Logger) *LimitHandler {
	return &LimitHandler{registry: registry, logger: logger}
}

type limitRequest struct {
	Tag          string `json:"tag"`
	Name         string `json:"name"`
	Expr         string `json:"expr" binding:"required"`
	CostExpr     string `json:"cost_expr"`
	Count        int64  `json:"count"`
	Window       int64  `json:"window"`
	Burst        int64  `json:"burst"`
	MaxBurstCost int64  `json:"max_burst_cost"`
	Expires      int64  `json:"expires"`
}

func (r limitRequest) definition() *model.LimitDefinition {
	return &model.LimitDefinition{
		Tag:           r.Tag,
		Name:          r.Name,
		PredicateExpr: r.Expr,
		CostExpr:      r.CostExpr,
		Count:         r.Count,
		Window:        r.Window,
		Burst:         r.Burst,
		MaxBurstCost:  r.MaxBurstCost,
		ExpiresAfter:  r.Expires,
	}
}

type limitListResponse struct {
	Items  []model.LimitSnapshot `json:"items"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// Create adds a limit or refreshes the live limit with the same tag.
func (h *LimitHandler) Create(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	tag, err := h.registry.Create(req.definition())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	snap, err := h.registry.Snapshot(tag)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// Refresh updates a live limit and fails if the tag does not exist.
func (h *LimitHandler) Refresh(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	tag := c.Param("tag")
	if err := h.registry.Refresh(tag, req.definition()); err != nil {
		writeError(c, h.logger, err)
		return
	}

	snap, err := h.registry.Snapshot(tag)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *LimitHandler) Query(c *gin.Context) {
	result, err := h.registry.Query(c.Param("tag"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *LimitHandler) Delete(c *gin.Context) {
	if err := h.registry.Delete(c.Param("tag")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// List returns live limits in tag order, optionally narrowed by a bexpr
// filter over the snapshot fields.
func (h *LimitHandler) List(c *gin.Context) {
	snapshots := h.registry.Snapshots()

	if filter := strings.TrimSpace(c.Query("filter")); filter != "" {
		evaluator, err := bexpr.CreateEvaluator(filter)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter", "details": err.Error()})
			return
		}
		filtered := snapshots[:0]
		for _, snap := range snapshots {
			ok, err := evaluator.Evaluate(snap)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter", "details": err.Error()})
				return
			}
			if ok {
				filtered = append(filtered, snap)
			}
		}
		snapshots = filtered
	}

	limit := parseLimit(c.Query("limit"), 100)
	offset := parseOffset(c.Query("offset"))
	total := len(snapshots)

	items := []model.LimitSnapshot{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		items = snapshots[offset:end]
	}

	c.JSON(http.StatusOK, limitListResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
