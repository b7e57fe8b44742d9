package transform

import (
	"context"
	"math"

	"github.com/cloudwego/eino/components/embedding"
)

// CleanEmbedder 包装原始 embedder，处理 NaN/Inf 值
// 扫描件 OCR 出来的乱码文本偶尔会让 embedding 出 NaN，Milvus 直接拒收
type CleanEmbedder struct {
	inner embedding.Embedder
}

func NewCleanEmbedder(inner embedding.Embedder) *CleanEmbedder {
	return &CleanEmbedder{inner: inner}
}

// EmbedStrings 包装原始方法，清理 NaN/Inf 值
func (e *CleanEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	vectors, err := e.inner.EmbedStrings(ctx, texts, opts...)
	if err != nil {
		return nil, err
	}

	cleanedCount := 0
	for _, vec := range vectors {
		for j, val := range vec {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				vec[j] = 0.0
				cleanedCount++
			}
		}
	}

	if cleanedCount > 0 {
		println(">>> [Embedding] 检测到 NaN/Inf 值，已清理为 0.0，清理了", cleanedCount, "个维度")
	}

	return vectors, nil
}
