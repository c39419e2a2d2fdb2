// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"rag-chat-go/pkg/log"
)

// maxLoggedBody 是日志中保留的请求体/响应体的最大字节数。
const maxLoggedBody = 2048

// bodyLogWriter 用于捕获响应体。流式文本响应不捕获，只透传。
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w *bodyLogWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyLogWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *bodyLogWriter) capture(b []byte) {
	if isStreamed(w.Header().Get("Content-Type")) {
		return
	}
	if room := maxLoggedBody - w.body.Len(); room > 0 {
		if len(b) > room {
			b = b[:room]
		}
		w.body.Write(b)
	}
}

func isStreamed(contentType string) bool {
	return strings.HasPrefix(contentType, "text/plain") || strings.HasPrefix(contentType, "text/event-stream")
}

func truncate(b []byte) string {
	if len(b) <= maxLoggedBody {
		return string(b)
	}
	return string(b[:maxLoggedBody]) + "...(truncated)"
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// multipart 上传、WebSocket 升级和流式响应的内容不会被记录。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		startTime := time.Now()

		var requestBody []byte
		if shouldCaptureRequest(c) {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		// 处理请求
		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"requestBody", truncate(requestBody),
			"responseBody", blw.body.String(),
		)
	}
}

func shouldCaptureRequest(c *gin.Context) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return false
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return false
	}
	return !strings.HasPrefix(c.ContentType(), "multipart/")
}
