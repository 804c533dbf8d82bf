// Package server exposes the enrollment engine's thin HTTP surface:
// enrollment linking, batch gap checks, the payment webhook, and the
// operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coursekit/enroll/internal/clock"
	"github.com/coursekit/enroll/internal/config"
	"github.com/coursekit/enroll/internal/gap"
	grantdomain "github.com/coursekit/enroll/internal/grant/domain"
	"github.com/coursekit/enroll/internal/observability"
	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	obsmetrics "github.com/coursekit/enroll/internal/observability/metrics"
	obstracing "github.com/coursekit/enroll/internal/observability/tracing"
	offeringdomain "github.com/coursekit/enroll/internal/offering/domain"
	"github.com/coursekit/enroll/internal/policy"
	"github.com/coursekit/enroll/internal/renewal"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	clock        clock.Clock
	grantSvc     grantdomain.Service
	validator    *gap.Validator
	resolver     *policy.CachedResolver
	offerings    offeringdomain.Repository
	orchestrator *renewal.Orchestrator
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	Clock        clock.Clock
	GrantSvc     grantdomain.Service
	Validator    *gap.Validator
	Resolver     *policy.CachedResolver
	Offerings    offeringdomain.Repository
	Orchestrator *renewal.Orchestrator
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		clock:        p.Clock,
		grantSvc:     p.GrantSvc,
		validator:    p.Validator,
		resolver:     p.Resolver,
		offerings:    p.Offerings,
		orchestrator: p.Orchestrator,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/enrollments", s.CreateEnrollment)
	v1.POST("/enrollments/promote", s.PromoteEnrollment)
	v1.POST("/enrollments/gap-check", s.GapCheck)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/v1/webhooks/midtrans", s.HandleMidtransWebhook)
}
