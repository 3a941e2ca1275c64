package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Result 看板屏幕使用的统一响应结构
type Result struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	ResultSuccess    = 2000
	ResultBadRequest = 4000
	ResultNotFound   = 4004
	ResultError      = -1
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Result{Code: ResultSuccess, Message: "ok", Data: data})
}

func fail(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Result{Code: code, Message: message})
}
