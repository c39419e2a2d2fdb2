package pipeline

import (
	"strings"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/extractor"
)

// splitText 将长文本按指定大小和重叠进行切分，单位为 rune。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	if chunkSize <= 0 {
		return nil
	}
	if chunkSize <= chunkOverlap || chunkOverlap < 0 {
		// 重叠参数无效时退化为无重叠切分
		chunkOverlap = 0
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// splitPages 逐页切块，分块不跨页，以便保留页码。纯空白的分块被丢弃。
func splitPages(pages []extractor.Page, chunkSize, chunkOverlap int) []model.TextChunk {
	var out []model.TextChunk
	for _, p := range pages {
		for _, c := range splitText(p.Text, chunkSize, chunkOverlap) {
			if strings.TrimSpace(c) == "" {
				continue
			}
			out = append(out, model.TextChunk{Page: p.Number, Text: c})
		}
	}
	return out
}
