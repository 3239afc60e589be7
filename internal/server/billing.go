package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
)

func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func parseID(raw string) (snowflake.ID, error) {
	if raw == "" {
		return 0, ErrInvalidRequest
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

type lineItemRequest struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createBillingRequest struct {
	RecipientID string            `json:"recipient_id" binding:"required"`
	CreatedBy   string            `json:"created_by" binding:"required"`
	BusinessID  string            `json:"business_id" binding:"required"`
	Type        string            `json:"type" binding:"required"`
	Amount      *decimal.Decimal  `json:"amount,omitempty"`
	Currency    string            `json:"currency" binding:"required"`
	IssueDate   *time.Time        `json:"issue_date,omitempty"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
	IsCashable  bool              `json:"is_cashable"`
	Timezone    string            `json:"timezone,omitempty"`
	LineItems   []lineItemRequest `json:"line_items,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

func (s *Server) createBilling(c *gin.Context) {
	var req createBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	recipientID, err := parseID(req.RecipientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	createdBy, err := parseID(req.CreatedBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	businessID, err := parseID(req.BusinessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]billingdomain.LineItemInput, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, billingdomain.LineItemInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	billing, err := s.billingSvc.Create(c.Request.Context(), billingdomain.CreateBillingRequest{
		RecipientID: recipientID,
		CreatedBy:   createdBy,
		BusinessID:  businessID,
		Type:        billingdomain.BillingType(req.Type),
		Amount:      req.Amount,
		Currency:    req.Currency,
		IssueDate:   req.IssueDate,
		DueDate:     req.DueDate,
		IsCashable:  req.IsCashable,
		Timezone:    req.Timezone,
		LineItems:   items,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, billing)
}

func (s *Server) billingStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	status, err := s.billingSvc.Status(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) checkBillingPayment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	resp, err := s.billingSvc.CheckPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type createPaymentIntentRequest struct {
	PayerID           string `json:"payer_id" binding:"required"`
	PaymentMethodID   string `json:"payment_method_id"`
	SavePaymentMethod bool   `json:"save_payment_method"`
	Timezone          string `json:"timezone,omitempty"`
}

func (s *Server) createPaymentIntent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payerID, err := parseID(req.PayerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.billingSvc.CreatePaymentIntent(c.Request.Context(), billingdomain.CreatePaymentIntentRequest{
		BillingID:         id,
		PayerID:           payerID,
		PaymentMethodID:   req.PaymentMethodID,
		SavePaymentMethod: req.SavePaymentMethod,
		Timezone:          req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type updateBillingStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	ActorID string `json:"actor_id" binding:"required"`
	Message string `json:"message,omitempty"`
}

func (s *Server) updateBillingStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateBillingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	actorID, err := parseID(req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	err = s.billingSvc.UpdateStatus(c.Request.Context(), billingdomain.UpdateStatusRequest{
		BillingID: id,
		Status:    billingdomain.BillingStatus(req.Status),
		ActorID:   actorID,
		Message:   req.Message,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}

type voidBillingRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
	Message string `json:"message,omitempty"`
}

func (s *Server) voidBilling(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req voidBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	actorID, err := parseID(req.ActorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.billingSvc.Void(c.Request.Context(), id, actorID, req.Message); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"voided": true})
}
