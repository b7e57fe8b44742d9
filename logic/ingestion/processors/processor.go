package processors

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// ChunkMeta 每个切片要携带的文档级标量（检索时做过滤用）
type ChunkMeta struct {
	DocID        string
	DocType      string
	Parties      []string
	Confidence   float64
	SchemaSHA256 string
}

// Processor 清洗切片并打上文档级元数据
// 空白切片直接丢弃，否则 Embedding 会报错
func Processor(ctx context.Context, src []*schema.Document, meta *ChunkMeta) ([]*schema.Document, error) {
	var cleanDocs []*schema.Document
	for _, doc := range src {
		// 移除 Null 字节 (常见 PDF 解析错误)
		content := strings.ReplaceAll(doc.Content, "\x00", "")

		// 移除无效的 UTF-8 字符
		if !utf8.ValidString(content) {
			v := make([]rune, 0, len(content))
			for i, r := range content {
				if r == utf8.RuneError {
					_, size := utf8.DecodeRuneInString(content[i:])
					if size == 1 {
						continue
					}
				}
				v = append(v, r)
			}
			content = string(v)
		}

		content = strings.TrimSpace(content)
		if content == "" {
			println("Warning: Found empty document chunk, skipping...")
			continue
		}

		doc.Content = content
		doc.ID = uuid.New().String()
		if doc.MetaData == nil {
			doc.MetaData = make(map[string]any)
		}
		if meta != nil {
			doc.MetaData["doc_id"] = meta.DocID
			doc.MetaData["doc_type"] = meta.DocType
			doc.MetaData["parties"] = strings.Join(meta.Parties, "; ")
			doc.MetaData["confidence"] = meta.Confidence
			doc.MetaData["schema_sha256"] = meta.SchemaSHA256
		}
		cleanDocs = append(cleanDocs, doc)
	}
	return cleanDocs, nil
}
