package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/stackrun/internal/http/handlers"
	"github.com/yungbote/stackrun/internal/http/middleware"
	"github.com/yungbote/stackrun/internal/platform/logger"
	"github.com/yungbote/stackrun/internal/store"
)

func wireRouter(log *logger.Logger, st *store.Store) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachRequestContext())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.CORS(log))

	healthHandler := handlers.NewHealthHandler()
	taskRunHandler := handlers.NewTaskRunHandler(st)

	router.GET("/healthcheck", healthHandler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/task-runs", taskRunHandler.Submit)
		api.GET("/task-runs/:id", taskRunHandler.Get)
	}

	return router
}
