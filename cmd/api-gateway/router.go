package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/classroom-checkin-api/api/swagger"
	"github.com/noah-isme/classroom-checkin-api/internal/handler"
	"github.com/noah-isme/classroom-checkin-api/internal/middleware"
	"github.com/noah-isme/classroom-checkin-api/internal/service"
	"github.com/noah-isme/classroom-checkin-api/pkg/config"
	"github.com/noah-isme/classroom-checkin-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classroom-checkin-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classroom-checkin-api/pkg/middleware/requestid"
)

type routerDeps struct {
	classrooms *handler.ClassroomHandler
	ops        *handler.MetricsHandler
	metrics    *service.MetricsService
	verifier   service.IdentityVerifier
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.ops.Health)
	r.GET("/ready", deps.ops.Ready)
	r.GET("/metrics", deps.ops.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		classrooms := api.Group("/classrooms/:cid")
		classrooms.GET("", deps.classrooms.View)
		classrooms.POST("/checkins", middleware.Identity(deps.verifier), deps.classrooms.CreateCheckin)
		classrooms.GET("/checkins/:sessionId/scores", deps.classrooms.Scores)
		classrooms.GET("/qrcode", deps.classrooms.QRCode)
	}

	return r
}
