package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
)

type addToCartRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	VariantID string `json:"variant_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

func (s *Server) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	variantID, err := parseID(req.VariantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.orderSvc.AddToCart(c.Request.Context(), userID, variantID, req.Quantity); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true})
}

func (s *Server) getCart(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	items, err := s.orderSvc.GetCart(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type checkoutRequest struct {
	BusinessID        string `json:"business_id" binding:"required"`
	BuyerID           string `json:"buyer_id" binding:"required"`
	Currency          string `json:"currency" binding:"required"`
	PaymentMethodID   string `json:"payment_method_id"`
	SavePaymentMethod bool   `json:"save_payment_method"`
	Timezone          string `json:"timezone,omitempty"`
}

func (s *Server) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	businessID, err := parseID(req.BusinessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	buyerID, err := parseID(req.BuyerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.orderSvc.Checkout(c.Request.Context(), orderdomain.CheckoutRequest{
		BusinessID:        businessID,
		BuyerID:           buyerID,
		Currency:          req.Currency,
		PaymentMethodID:   req.PaymentMethodID,
		SavePaymentMethod: req.SavePaymentMethod,
		Timezone:          req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, items, err := s.orderSvc.GetOrder(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}
