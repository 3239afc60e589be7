package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"gorm.io/datatypes"
)

type createBusinessRequest struct {
	Name            string         `json:"name" binding:"required"`
	OwnerUserID     string         `json:"owner_user_id" binding:"required"`
	PaymentProvider string         `json:"payment_provider,omitempty"`
	ProviderConfig  map[string]any `json:"provider_config,omitempty"`
}

func (s *Server) createBusiness(c *gin.Context) {
	var req createBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ownerID, err := parseID(req.OwnerUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	owner, err := s.identitySvc.GetUser(c.Request.Context(), ownerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if owner == nil {
		AbortWithError(c, identitydomain.ErrUserMissing)
		return
	}

	business := &tenantdomain.Business{
		ID:              s.genID.Generate(),
		Name:            req.Name,
		OwnerUserID:     ownerID,
		PaymentProvider: req.PaymentProvider,
		ProviderConfig:  datatypes.JSONMap(req.ProviderConfig),
	}
	if err := s.businesses.Insert(c.Request.Context(), s.db, business); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, business)
}

type setTaxRateRequest struct {
	RatePercent decimal.Decimal `json:"rate_percent"`
}

func (s *Server) setTaxRate(c *gin.Context) {
	recipientID, ok := pathID(c, "recipient_id")
	if !ok {
		return
	}

	var req setTaxRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.taxSvc.SetTaxRate(c.Request.Context(), recipientID, req.RatePercent); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
