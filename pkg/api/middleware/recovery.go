// Package middleware 提供HTTP API的全局中间件
package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/taskdeck/flowqueue/pkg/api/dto"
)

// Recovery panic恢复中间件
// 处理器panic只影响当前请求：记录堆栈并返回500，服务进程继续运行
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("❌ [请求panic] %s %s, panic=%v\n%s",
					c.Request.Method, c.Request.URL.Path, err, debug.Stack())

				c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "服务器内部错误"))
				c.Abort()
			}
		}()
		c.Next()
	}
}
