// Package httpapi 显示站本地 HTTP 接口（供看板屏幕使用）
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter 注册看板接口路由
func NewRouter(h *KioskHandler, allowOrigins []string, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(logger))
	_ = r.SetTrustedProxies(nil)

	if len(allowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  allowOrigins,
			AllowHeaders:  []string{"Origin", "Content-Type", "X-Request-ID"},
			ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		}))
	}

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api/v1")
	api.GET("/display", h.GetDisplay)
	api.GET("/display/stream", h.StreamDisplay)

	sound := api.Group("/sound")
	sound.POST("/unlock", h.Unlock)
	sound.POST("/mute", h.Mute)
	sound.GET("/voices", h.ListVoices)
	sound.POST("/voice", h.PickVoice)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, ResultNotFound, "not found")
	})
	return r
}
