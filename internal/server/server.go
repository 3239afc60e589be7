package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingdomain "github.com/smallbiznis/tally/internal/billing/domain"
	catalogdomain "github.com/smallbiznis/tally/internal/catalog/domain"
	"github.com/smallbiznis/tally/internal/config"
	identitydomain "github.com/smallbiznis/tally/internal/identity/domain"
	orderdomain "github.com/smallbiznis/tally/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/tally/internal/tax/domain"
	tenantdomain "github.com/smallbiznis/tally/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	DB     *gorm.DB
	Engine *gin.Engine
	GenID  *snowflake.Node

	BillingSvc      billingdomain.Service
	CatalogSvc      catalogdomain.Service
	OrderSvc        orderdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	IdentitySvc     identitydomain.Service
	TaxSvc          taxdomain.Service
	Businesses      tenantdomain.Repository
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger
	db     *gorm.DB
	genID  *snowflake.Node

	billingSvc      billingdomain.Service
	catalogSvc      catalogdomain.Service
	orderSvc        orderdomain.Service
	subscriptionSvc subscriptiondomain.Service
	identitySvc     identitydomain.Service
	taxSvc          taxdomain.Service
	businesses      tenantdomain.Repository
}

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Error mapping wraps tenant resolution so aborts inside the tenant
	// middleware still produce a response body.
	r.Use(ErrorHandlingMiddleware())
	r.Use(TenantContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:          p.Engine,
		cfg:             p.Config,
		log:             p.Log.Named("server"),
		db:              p.DB,
		genID:           p.GenID,
		billingSvc:      p.BillingSvc,
		catalogSvc:      p.CatalogSvc,
		orderSvc:        p.OrderSvc,
		subscriptionSvc: p.SubscriptionSvc,
		identitySvc:     p.IdentitySvc,
		taxSvc:          p.TaxSvc,
		businesses:      p.Businesses,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	billings := v1.Group("/billings")
	billings.POST("", s.createBilling)
	billings.GET("/:id/status", s.billingStatus)
	billings.GET("/:id/payment", s.checkBillingPayment)
	billings.POST("/:id/pay", s.createPaymentIntent)
	billings.PATCH("/:id/status", s.updateBillingStatus)
	billings.POST("/:id/void", s.voidBilling)

	products := v1.Group("/products")
	products.POST("", s.createProduct)
	products.GET("/:id", s.getProduct)
	products.PATCH("/:id/active", s.setProductActive)

	carts := v1.Group("/cart")
	carts.POST("/items", s.addToCart)
	carts.GET("/:user_id", s.getCart)

	orders := v1.Group("/orders")
	orders.POST("/checkout", s.checkout)
	orders.GET("/:id", s.getOrder)

	plans := v1.Group("/plans")
	plans.POST("", s.createPlan)
	plans.GET("/:id", s.getPlan)

	subscriptions := v1.Group("/subscriptions")
	subscriptions.POST("", s.createSubscription)
	subscriptions.POST("/:id/activate", s.activateSubscription)
	subscriptions.POST("/:id/deactivate", s.deactivateSubscription)
	subscriptions.GET("/:id/status", s.subscriptionStatus)

	businesses := v1.Group("/businesses")
	businesses.POST("", s.createBusiness)
	businesses.GET("/:id/subscription", s.currentSubscription)
	businesses.GET("/:id/features", s.businessFeatures)
	businesses.GET("/:id/modules/:module", s.hasModuleAccess)

	v1.PUT("/tax-rates/:recipient_id", s.setTaxRate)
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
