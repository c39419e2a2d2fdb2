package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/log"
)

// UploadHandler 负责处理 PDF 上传请求。
type UploadHandler struct {
	documentService service.DocumentService
	maxUploadBytes  int64
}

// NewUploadHandler 创建一个新的 UploadHandler 实例。maxUploadBytes <= 0 表示不限制大小。
func NewUploadHandler(documentService service.DocumentService, maxUploadBytes int64) *UploadHandler {
	return &UploadHandler{documentService: documentService, maxUploadBytes: maxUploadBytes}
}

// UploadPDF 处理 POST /upload_pdf。表单字段 file 必须声明 application/pdf。
func (h *UploadHandler) UploadPDF(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":   http.StatusRequestEntityTooLarge,
				"detail": "File too large",
			})
			return
		}
		log.Warnf("[UploadHandler] 未能获取上传的文件: %v", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "detail": "Missing file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	ref, err := h.documentService.UploadPDF(c.Request.Context(), fileHeader.Filename, contentType, file)
	if err != nil {
		writeError(c, err)
		return
	}

	log.Infof("[UploadHandler] 文件上传成功, file: %s, document_id: %s, chunks: %d", ref.FileName, ref.ID, ref.ChunkCount)
	c.JSON(http.StatusOK, gin.H{
		"message":  "File uploaded successfully",
		"pdf_path": ref.ObjectKey,
		"pdf_uuid": ref.ID,
	})
}
