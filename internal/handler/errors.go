// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// 对外暴露的错误描述。上游的原始错误只写日志，不返回给客户端。
const (
	detailInvalidBody = "Invalid request body"
	detailNotPDF      = "Only PDF files are allowed"
	detailChatMissing = "Chat not found"
	detailInternal    = "Internal server error"
)

// unavailableDetails 按从具体到笼统的顺序匹配。
var unavailableDetails = []struct {
	err    error
	detail string
}{
	{service.ErrRetrievalUnavailable, "Retrieval service unavailable"},
	{service.ErrReformulationFailed, "Question reformulation failed"},
	{service.ErrGenerationFailed, "Answer generation failed"},
	{service.ErrIngestionFailed, "Document ingestion failed"},
	{service.ErrServiceUnavailable, "Service unavailable"},
}

// classify 把业务错误映射为 HTTP 状态码和可以返回给客户端的描述。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotPDF):
		return http.StatusBadRequest, detailNotPDF
	case errors.Is(err, service.ErrInvalidInput):
		// 校验错误的文本由服务层生成，不含上游信息
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrChatNotFound):
		return http.StatusNotFound, detailChatMissing
	}
	for _, u := range unavailableDetails {
		if errors.Is(err, u.err) {
			return http.StatusServiceUnavailable, u.detail
		}
	}
	return http.StatusInternalServerError, detailInternal
}

func writeError(c *gin.Context, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[Handler] %s %s 失败, status: %d, error: %v", c.Request.Method, c.FullPath(), status, err)
	} else {
		log.Warnf("[Handler] %s %s 请求被拒绝, status: %d, error: %v", c.Request.Method, c.FullPath(), status, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"code": status, "detail": detail})
}

func writeBindError(c *gin.Context, err error) {
	log.Warnf("[Handler] %s %s 请求体无效: %v", c.Request.Method, c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "detail": detailInvalidBody})
}
