package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quangminh-smart-border/consignment-service/internal/config"
	"github.com/quangminh-smart-border/consignment-service/internal/metrics"
	"github.com/quangminh-smart-border/consignment-service/internal/service"
	"go.uber.org/zap"
)

func NewRouter(svc *service.ConsignmentService, cfg *config.Config, m *metrics.Metrics, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware(m))
	r.Use(RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(m.Handler()))
	RegisterHandlers(r, svc, cfg.Server.APIKey)
	return r
}
