package api

import (
	"github.com/fyerfyer/aven-ingest/api/handler"
	"github.com/fyerfyer/aven-ingest/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
func SetupRouter(indexHandler *handler.IndexHandler) *gin.Engine {
	router := gin.New()

	// 追踪ID需要先于日志和错误处理写入上下文
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())
	router.Use(Cors())

	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		// 健康检查 - GET /api/health
		api.GET("/health", indexHandler.Health)

		// 集合统计 - GET /api/stats
		api.GET("/stats", indexHandler.Stats)

		// 相似度查询 - POST /api/query
		api.POST("/query", indexHandler.Query)
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
