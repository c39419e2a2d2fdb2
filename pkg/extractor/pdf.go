// Package extractor 把 PDF 文件解析为按页组织的纯文本。
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/tika"
)

// Page 是一页 PDF 的文本，Number 从 1 开始。
type Page struct {
	Number int
	Text   string
}

// Extractor 从磁盘上的文件中提取文本。
type Extractor interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// PDFExtractor 使用纯 Go 的 ledongthuc/pdf 逐页提取文本。
type PDFExtractor struct{}

func (PDFExtractor) ExtractPages(ctx context.Context, path string) (pages []Page, err error) {
	// ledongthuc/pdf 遇到损坏的文件时可能 panic
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf %s: %v", filepath.Base(path), r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return pages, nil
}

// FallbackExtractor 先用 Primary 解析，失败或没有得到任何文本时交给 Tika。
// Tika 返回的整段文本记为第 1 页。
type FallbackExtractor struct {
	Primary Extractor
	Tika    *tika.Client
}

// New 返回默认的提取器；tikaClient 为 nil 时不启用兜底。
func New(tikaClient *tika.Client) Extractor {
	if tikaClient == nil {
		return PDFExtractor{}
	}
	return &FallbackExtractor{Primary: PDFExtractor{}, Tika: tikaClient}
}

func (e *FallbackExtractor) ExtractPages(ctx context.Context, path string) ([]Page, error) {
	pages, err := e.Primary.ExtractPages(ctx, path)
	if err == nil && len(pages) > 0 {
		return pages, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if err != nil {
		log.Warnf("[Extractor] PDF 解析失败, 尝试 Tika: %v", err)
	}

	f, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("open staged file: %w", openErr)
	}
	defer f.Close()

	text, tikaErr := e.Tika.ExtractText(ctx, f, filepath.Base(path))
	if tikaErr != nil {
		if err != nil {
			return nil, fmt.Errorf("%w; tika: %w", err, tikaErr)
		}
		return nil, tikaErr
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Page{{Number: 1, Text: text}}, nil
}
