package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
)

// Recovery 捕获处理器 panic，记录请求与堆栈后返回 500
// 响应已开始写出（事件流、已升级的 WebSocket）时只中止请求，不再追加响应体
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if r == http.ErrAbortHandler {
				// 交给 net/http 中断连接
				panic(r)
			}
			log.Printf("❌ [API] 请求处理panic: %s %s, Error=%v\n%s",
				c.Request.Method, c.Request.URL.Path, r, debug.Stack())

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				dto.NewErrorResponse(http.StatusInternalServerError, "服务器内部错误"))
		}()
		c.Next()
	}
}
