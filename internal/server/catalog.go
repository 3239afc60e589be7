package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
)

type createVariantRequest struct {
	Name     string          `json:"name" binding:"required"`
	SKU      string          `json:"sku,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type createProductRequest struct {
	BusinessID  string                 `json:"business_id" binding:"required"`
	Name        string                 `json:"name" binding:"required"`
	Description string                 `json:"description,omitempty"`
	Variants    []createVariantRequest `json:"variants"`
}

func (s *Server) createProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	businessID, err := parseID(req.BusinessID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	variants := make([]catalogdomain.CreateVariantInput, 0, len(req.Variants))
	for _, v := range req.Variants {
		variants = append(variants, catalogdomain.CreateVariantInput{
			Name:     v.Name,
			SKU:      v.SKU,
			Price:    v.Price,
			Quantity: v.Quantity,
		})
	}

	product, err := s.catalogSvc.CreateProduct(c.Request.Context(), catalogdomain.CreateProductRequest{
		BusinessID:  businessID,
		Name:        req.Name,
		Description: req.Description,
		Variants:    variants,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

func (s *Server) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	product, variants, err := s.catalogSvc.GetProduct(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product, "variants": variants})
}

type setProductActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) setProductActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req setProductActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.catalogSvc.SetProductActive(c.Request.Context(), id, req.Active); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}
