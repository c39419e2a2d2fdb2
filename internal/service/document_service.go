package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	"rag-chat-go/internal/model"
	"rag-chat-go/internal/pipeline"
	"rag-chat-go/pkg/log"
)

// DocumentIngestor 是入库流水线的抽象，由 pipeline.Ingestor 实现。
type DocumentIngestor interface {
	Ingest(ctx context.Context, up pipeline.Upload) (*model.DocumentRef, error)
}

// DocumentService 接口定义了文档上传操作。
type DocumentService interface {
	UploadPDF(ctx context.Context, fileName, contentType string, body io.Reader) (*model.DocumentRef, error)
}

type documentService struct {
	ingestor DocumentIngestor
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(ingestor DocumentIngestor) DocumentService {
	return &documentService{ingestor: ingestor}
}

// isPDF 只看调用方声明的类型，不嗅探内容。
func isPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, pipeline.PDFContentType)
}

// UploadPDF 校验类型后交给入库流水线。类型不符时没有任何副作用。
func (s *documentService) UploadPDF(ctx context.Context, fileName, contentType string, body io.Reader) (*model.DocumentRef, error) {
	if !isPDF(contentType) {
		log.Warnf("[DocumentService] 拒绝非 PDF 上传, file: %s, content_type: %q", fileName, contentType)
		return nil, ErrNotPDF
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}

	ref, err := s.ingestor.Ingest(ctx, pipeline.Upload{FileName: fileName, ContentType: contentType, Body: body})
	if err != nil {
		return nil, wrap(ErrIngestionFailed, err)
	}
	return ref, nil
}
