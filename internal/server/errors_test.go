package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	paymentdomain "github.com/smallbiznis/tally/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"github.com/smallbiznis/tally/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware(), TenantContext())
	engine.GET("/probe", handler)
	return engine
}

func perform(engine *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if header != "" {
		req.Header.Set(HeaderTenant, header)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestTenantContextMiddleware(t *testing.T) {
	var seen string
	engine := newTestEngine(func(c *gin.Context) {
		if id, ok := tenantctx.TenantIDFromContext(c.Request.Context()); ok {
			seen = id.String()
		} else {
			seen = "platform"
		}
		c.Status(http.StatusNoContent)
	})

	rec := perform(engine, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "platform", seen)

	rec = perform(engine, "1234567890123456789")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1234567890123456789", seen)
}

func TestTenantContextRejectsMalformedHeader(t *testing.T) {
	engine := newTestEngine(func(c *gin.Context) {
		t.Fatal("handler must not run")
	})

	rec := perform(engine, "not-a-tenant")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":{"type":"bad_request","message":"invalid_request"}}`, rec.Body.String())
}

func TestMapErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"not found", billingdomain.ErrBillingNotFound, http.StatusNotFound, "not_found"},
		{"forbidden", billingdomain.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"no processor", tenantdomain.ErrNoProcessorConfigured, http.StatusBadRequest, "configuration_error"},
		{"processor failure", paymentdomain.ErrProcessorFailure, http.StatusBadGateway, "external_processor_error"},
		{"validation", billingdomain.ErrInvalidAmount, http.StatusBadRequest, "bad_request"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.wantStatus, status)
			assert.Equal(t, tc.wantType, payload.Type)
		})
	}
}

func TestMapErrorHidesInternalDetail(t *testing.T) {
	_, payload := mapError(errors.New("pq: connection refused"))
	assert.Equal(t, "internal server error", payload.Message)
}
