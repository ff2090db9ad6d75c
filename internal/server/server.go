package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/fitdesk/internal/config"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/observability"
	obslogger "github.com/smallbiznis/fitdesk/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fitdesk/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fitdesk/internal/observability/tracing"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/providers/pdf"
	"github.com/smallbiznis/fitdesk/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// EngineConfig carries what the middleware chain needs from the process.
type EngineConfig struct {
	Debug    bool
	DeviceID string
}

func NewEngine(cfg EngineConfig, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.Debug,
		DeviceID:        cfg.DeviceID,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(EngineConfig{Debug: obsCfg.Debug(), DeviceID: obsCfg.DeviceID}, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("local api stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("local api listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// syncDrainer runs one outbox pass on demand.
type syncDrainer interface {
	Drain(ctx context.Context) (outboxservice.DrainResult, error)
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	members  membershipdomain.Service
	drainer  syncDrainer
	guard    *ratelimit.SyncGuard
	receipts pdf.Provider
	log      *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Members  membershipdomain.Service
	Drainer  *outboxservice.Drainer
	Guard    *ratelimit.SyncGuard `optional:"true"`
	Receipts pdf.Provider         `optional:"true"`
	Log      *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		members:  p.Members,
		guard:    p.Guard,
		receipts: p.Receipts,
		log:      p.Log.Named("http.server"),
	}
	if p.Drainer != nil {
		s.drainer = p.Drainer
	}
	if s.receipts == nil {
		s.receipts = pdf.New()
	}

	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	api := s.engine.Group("/api")

	// -------- Members --------
	api.GET("/members", s.ListMembers)
	api.POST("/members", s.CreateMember)
	api.GET("/members/:id", s.GetMember)
	api.PUT("/members/:id", s.UpdateMember)
	api.DELETE("/members/:id", s.DeleteMember)
	api.GET("/members/:id/payments", s.ListMemberPayments)

	// -------- Payments --------
	api.POST("/payments", s.RecordPayment)
	api.POST("/payments/preview", s.PreviewPayment)
	api.GET("/payments/:id", s.GetPayment)
	api.GET("/payments/:id/receipt", s.PaymentReceipt)

	// -------- Plans --------
	api.GET("/plans", s.ListPlans)
	api.POST("/plans", s.CreatePlan)
	api.PUT("/plans/:id", s.UpdatePlan)
	api.DELETE("/plans/:id", s.DeletePlan)

	// -------- Settings --------
	api.GET("/settings/:key", s.GetSetting)
	api.PUT("/settings/:key", s.PutSetting)

	// -------- Sync --------
	api.GET("/sync/pending", s.ListPendingSync)
	api.GET("/sync/failed", s.ListFailedSync)
	api.POST("/sync/failed/:id/retry", s.RetryFailedSync)
	api.POST("/sync/drain", s.SyncTriggerLimit("drain"), s.DrainNow)
	api.POST("/sync/refresh", s.SyncTriggerLimit("refresh"), s.Refresh)

	// -------- Backup --------
	api.GET("/backup", s.ExportBackup)
	api.POST("/backup/restore", s.RestoreBackup)
}
