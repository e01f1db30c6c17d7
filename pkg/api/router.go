package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LENAX/build-coordinator/pkg/api/handler"
	"github.com/LENAX/build-coordinator/pkg/api/middleware"
	"github.com/LENAX/build-coordinator/pkg/core/engine"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	buildSetHandler := handler.NewBuildSetHandler(eng)
	taskHandler := handler.NewTaskHandler(eng)
	healthHandler := handler.NewHealthHandler(eng, version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		v1.GET("/stats", healthHandler.Stats)

		// 组构建路由
		sets := v1.Group("/build-sets")
		{
			sets.GET("", buildSetHandler.List)
			sets.POST("", buildSetHandler.Submit)
			sets.GET("/:id", buildSetHandler.Get)
			sets.POST("/:id/cancel", buildSetHandler.Cancel)
			sets.GET("/:id/records", buildSetHandler.Records)
			sets.GET("/:id/events", buildSetHandler.Events)
		}

		// 任务路由
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.Submit)
			tasks.GET("/:id", taskHandler.Get)
			tasks.POST("/:id/cancel", taskHandler.Cancel)
		}
	}

	return router
}
