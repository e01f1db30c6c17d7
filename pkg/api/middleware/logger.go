package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger 请求日志中间件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		mark := "✅"
		switch {
		case status >= 500:
			mark = "❌"
		case status >= 400:
			mark = "⚠️"
		}
		log.Printf("%s [API] %s %s %d %v %s", mark, c.Request.Method, path, status, time.Since(start), c.ClientIP())
	}
}
