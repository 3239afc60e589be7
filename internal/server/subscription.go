package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
)

type createPlanRequest struct {
	Name            string          `json:"name" binding:"required"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency" binding:"required"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Frequencies     []string        `json:"frequencies"`
	Modules         []string        `json:"modules"`
	AutoRenew       bool            `json:"auto_renew"`
}

func (s *Server) createPlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plan, err := s.subscriptionSvc.CreatePlan(c.Request.Context(), subscriptiondomain.CreatePlanRequest{
		Name:            req.Name,
		Price:           req.Price,
		Currency:        req.Currency,
		DiscountPercent: req.DiscountPercent,
		Frequencies:     req.Frequencies,
		Modules:         req.Modules,
		AutoRenew:       req.AutoRenew,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (s *Server) getPlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	plan, err := s.subscriptionSvc.GetPlan(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

type createSubscriptionRequest struct {
	BusinessID string `json:"business_id" binding:"required"`
	PlanID     string `json:"plan_id" binding:"required"`
	Frequency  string `json:"frequency" binding:"required"`
	Timezone   string `json:"timezone,omitempty"`
}

func (s *Server) createSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	businessID, err := parseID(req.BusinessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := parseID(req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateRequest{
		BusinessID: businessID,
		PlanID:     planID,
		Frequency:  subscriptiondomain.Frequency(req.Frequency),
		Timezone:   req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

type activateSubscriptionRequest struct {
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) activateSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req activateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	source := req.Source
	if source == "" {
		source = subscriptiondomain.SourcePaymentConfirmed
	}

	if err := s.subscriptionSvc.Activate(c.Request.Context(), id, source, req.Metadata); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activated": true})
}

type deactivateSubscriptionRequest struct {
	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) deactivateSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req deactivateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	source := req.Source
	if source == "" {
		source = subscriptiondomain.SourceManual
	}

	if err := s.subscriptionSvc.Deactivate(c.Request.Context(), id, source, req.Message); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deactivated": true})
}

func (s *Server) subscriptionStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	status, err := s.subscriptionSvc.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (s *Server) currentSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.Current(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) businessFeatures(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	features, err := s.subscriptionSvc.Features(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features})
}

func (s *Server) hasModuleAccess(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	hasAccess, err := s.subscriptionSvc.HasModuleAccess(c.Request.Context(), id, c.Param("module"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_access": hasAccess})
}
