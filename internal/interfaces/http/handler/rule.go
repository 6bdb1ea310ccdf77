package handler

import (
	"context"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RuleService manages pricing rules
type RuleService interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, req pricesyncapp.UpsertPricingRuleRequest) (*pricesyncapp.PricingRuleResponse, error)
	Get(ctx context.Context, tenantID, ruleID uuid.UUID) (*pricesyncapp.PricingRuleResponse, error)
	List(ctx context.Context, tenantID uuid.UUID, ruleType string, includeInactive bool) ([]pricesyncapp.PricingRuleResponse, error)
	Deactivate(ctx context.Context, tenantID, ruleID uuid.UUID) (*pricesyncapp.PricingRuleResponse, error)
}

// RuleHandler handles pricing rule endpoints
type RuleHandler struct {
	BaseHandler
	rules RuleService
}

// NewRuleHandler creates a new RuleHandler
func NewRuleHandler(rules RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// RuleListQuery filters the rule listing
type RuleListQuery struct {
	RuleType        string `form:"rule_type" binding:"omitempty,rule_type"`
	IncludeInactive bool   `form:"include_inactive"`
}

// Upsert creates a rule, or replaces one when the body carries an id.
// Creation answers 201.
func (h *RuleHandler) Upsert(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var req pricesyncapp.UpsertPricingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	rule, err := h.rules.Upsert(c.Request.Context(), tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if req.ID == nil {
		h.Created(c, rule)
		return
	}
	h.Success(c, rule)
}

// Get returns one rule
func (h *RuleHandler) Get(c *gin.Context) {
	tenantID, ruleID, ok := h.target(c)
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), tenantID, ruleID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rule)
}

// List returns the tenant's rules in evaluation order
func (h *RuleHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var q RuleListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	rules, err := h.rules.List(c.Request.Context(), tenantID, q.RuleType, q.IncludeInactive)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rules)
}

// Deactivate soft-deletes a rule
func (h *RuleHandler) Deactivate(c *gin.Context) {
	tenantID, ruleID, ok := h.target(c)
	if !ok {
		return
	}
	rule, err := h.rules.Deactivate(c.Request.Context(), tenantID, ruleID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rule)
}

func (h *RuleHandler) target(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return uuid.Nil, uuid.Nil, false
	}
	ruleID, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid rule ID")
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, ruleID, true
}
