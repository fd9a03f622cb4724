package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thelab33/futurefunded/internal/config"
	"github.com/thelab33/futurefunded/internal/donation"
	donationdomain "github.com/thelab33/futurefunded/internal/donation/domain"
	donationservice "github.com/thelab33/futurefunded/internal/donation/service"
	"github.com/thelab33/futurefunded/internal/observability"
	obsmiddleware "github.com/thelab33/futurefunded/internal/observability/logger"
	obsmetrics "github.com/thelab33/futurefunded/internal/observability/metrics"
	obstracing "github.com/thelab33/futurefunded/internal/observability/tracing"
	"github.com/thelab33/futurefunded/internal/organization"
	"github.com/thelab33/futurefunded/internal/payment"
	paymentwebhook "github.com/thelab33/futurefunded/internal/payment/webhook"
	"github.com/thelab33/futurefunded/internal/providers/email"
	"github.com/thelab33/futurefunded/internal/ratelimit"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	email.Module,
	organization.Module,
	donation.Module,
	payment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func classifyErrorForLog(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, donationdomain.ErrAmountInvalid),
		errors.Is(err, donationdomain.ErrAmountBelowMinimum),
		errors.Is(err, donationdomain.ErrInvalidPayload):
		return "validation", err.Error()
	case errors.Is(err, donationdomain.ErrInvalidSignature):
		return "signature", "invalid_signature"
	case errors.Is(err, donationdomain.ErrProviderNotConfigured):
		return "configuration", "provider_not_configured"
	case errors.Is(err, donationdomain.ErrSchemaMissing):
		return "database", "schema_missing"
	case errors.Is(err, donationdomain.ErrTransientDB):
		return "database", "transient"
	case errors.Is(err, donationdomain.ErrUpstreamProvider):
		return "upstream", "provider_error"
	case errors.Is(err, donationdomain.ErrNotFound):
		return "not_found", "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit", "rate_limited"
	default:
		return "internal", "internal_error"
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting http server", zap.String("addr", cfg.HTTPAddr))
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

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	donationSvc   *donationservice.Service
	webhookSvc    *paymentwebhook.Service
	intentLimiter *ratelimit.IntentLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	DonationSvc   *donationservice.Service
	WebhookSvc    *paymentwebhook.Service
	IntentLimiter *ratelimit.IntentLimiter
	ObsMetrics    *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("server"),
		genID:         p.GenID,
		donationSvc:   p.DonationSvc,
		webhookSvc:    p.WebhookSvc,
		intentLimiter: p.IntentLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerPaymentRoutes()

	return svc
}
