package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/clientbilling/internal/config"
	customerdomain "github.com/smallbiznis/clientbilling/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/clientbilling/internal/invoice/domain"
	"github.com/smallbiznis/clientbilling/internal/observability"
	obsmiddleware "github.com/smallbiznis/clientbilling/internal/observability/logger"
	obstracing "github.com/smallbiznis/clientbilling/internal/observability/tracing"
	plandomain "github.com/smallbiznis/clientbilling/internal/paymentplan/domain"
	"github.com/smallbiznis/clientbilling/internal/ratelimit"
	ratedomain "github.com/smallbiznis/clientbilling/internal/rate/domain"
	reconcilerdomain "github.com/smallbiznis/clientbilling/internal/reconciler/domain"
	workdomain "github.com/smallbiznis/clientbilling/internal/workentry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
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

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	customerSvc   customerdomain.Service
	rateSvc       ratedomain.Service
	workSvc       workdomain.Service
	invoiceSvc    invoicedomain.Service
	planSvc       plandomain.Service
	reconcilerSvc reconcilerdomain.Service
	limiter       *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	CustomerSvc   customerdomain.Service
	RateSvc       ratedomain.Service
	WorkSvc       workdomain.Service
	InvoiceSvc    invoicedomain.Service
	PlanSvc       plandomain.Service
	ReconcilerSvc reconcilerdomain.Service
	Limiter       *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		customerSvc:   p.CustomerSvc,
		rateSvc:       p.RateSvc,
		workSvc:       p.WorkSvc,
		invoiceSvc:    p.InvoiceSvc,
		planSvc:       p.PlanSvc,
		reconcilerSvc: p.ReconcilerSvc,
		limiter:       p.Limiter,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.rateLimit("api"))

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)

	// -------- Rates --------
	api.GET("/rates", s.ListRates)
	api.POST("/rates", s.CreateRate)
	api.GET("/rates/:id", s.GetRateByID)
	api.PATCH("/rates/:id", s.UpdateRate)
	api.DELETE("/rates/:id", s.DeleteRate)

	// -------- Work Ledger --------
	api.GET("/work_entries", s.ListWorkEntries)
	api.POST("/work_entries", s.RecordWorkEntry)
	api.GET("/work_entries/:id", s.GetWorkEntryByID)
	api.GET("/agent_costs", s.ListAgentCosts)
	api.POST("/agent_costs", s.RecordAgentCost)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices/generate", s.GenerateProjectInvoice)
	api.POST("/invoices/generate_agent_costs", s.GenerateAgentCostInvoice)
	api.POST("/invoices/mark_overdue", s.MarkOverdueInvoices)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/status", s.SetInvoiceStatus)
	api.DELETE("/invoices/:id", s.DeleteInvoice)
	api.GET("/invoices/:id/payment_plans", s.ListInvoicePaymentPlans)

	// -------- Payment Plans --------
	api.POST("/payment_plans", s.CreatePaymentPlan)
	api.GET("/payment_plans/:id", s.GetPaymentPlanByID)
	api.POST("/payment_plans/:id/accept", s.AcceptPaymentPlan)
	api.POST("/payment_plans/:id/cancel", s.CancelPaymentPlan)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.rateLimit("webhooks.stripe"), s.HandleStripeWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
