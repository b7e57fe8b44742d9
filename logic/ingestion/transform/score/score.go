package score

import (
	"fmt"
	"sort"

	"github.com/cloudwego/eino/schema"
)

// ==================== 混合检索 Reranker ====================

// HybridRerankerConfig 混合检索重排配置
type HybridRerankerConfig struct {
	MilvusWeight float64 // Milvus 向量检索权重，默认 0.6
	ESWeight     float64 // ES 关键词检索权重，默认 0.4
	TopK         int     // 最终返回结果数量，默认 10
}

func DefaultHybridRerankerConfig() *HybridRerankerConfig {
	return &HybridRerankerConfig{
		MilvusWeight: 0.6,
		ESWeight:     0.4,
		TopK:         10,
	}
}

// RerankedDocument 重新排序后的文档（带来源标记）
type RerankedDocument struct {
	*schema.Document
	FinalScore float64  // 最终融合分数
	Sources    []string // 来源标记：["milvus", "es"] 或 ["milvus"] 或 ["es"]
}

// HybridReranker 合并 Milvus 和 ES 的检索结果
// 实现步骤：
// 1. 分数归一化（Min-Max 归一化到 [0,1]）
// 2. 按 ID 去重（同一切片在两个结果集中都出现时，分数累加）
// 3. 加权融合（finalScore = milvusScore * 0.6 + esScore * 0.4）
// 4. 按 FinalScore 降序排序，返回 TopK
func HybridReranker(milvusDocs, esDocs []*schema.Document, config *HybridRerankerConfig) []*RerankedDocument {
	if config == nil {
		config = DefaultHybridRerankerConfig()
	}

	normalizeScores(milvusDocs)
	normalizeScores(esDocs)

	docMap := make(map[string]*RerankedDocument)

	for _, doc := range milvusDocs {
		if doc == nil {
			continue
		}
		if _, exists := docMap[doc.ID]; !exists {
			docMap[doc.ID] = &RerankedDocument{
				Document:   doc,
				FinalScore: doc.Score() * config.MilvusWeight,
				Sources:    []string{"milvus"},
			}
		} else {
			existing := docMap[doc.ID]
			existing.FinalScore += doc.Score() * config.MilvusWeight
			existing.Sources = append(existing.Sources, "milvus")
		}
	}

	for _, doc := range esDocs {
		if doc == nil {
			continue
		}
		if _, exists := docMap[doc.ID]; !exists {
			docMap[doc.ID] = &RerankedDocument{
				Document:   doc,
				FinalScore: doc.Score() * config.ESWeight,
				Sources:    []string{"es"},
			}
		} else {
			existing := docMap[doc.ID]
			existing.FinalScore += doc.Score() * config.ESWeight
			existing.Sources = append(existing.Sources, "es")
		}
	}

	results := make([]*RerankedDocument, 0, len(docMap))
	for _, doc := range docMap {
		results = append(results, doc)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})

	if len(results) > config.TopK {
		results = results[:config.TopK]
	}

	return results
}

// normalizeScores Min-Max 归一化到 [0, 1] 区间
func normalizeScores(docs []*schema.Document) {
	if len(docs) == 0 {
		return
	}

	maxScore := docs[0].Score()
	minScore := docs[0].Score()
	for _, doc := range docs {
		score := doc.Score()
		if score > maxScore {
			maxScore = score
		}
		if score < minScore {
			minScore = score
		}
	}

	// 所有分数相同时避免除以零
	if maxScore == minScore {
		for _, doc := range docs {
			doc.WithScore(1.0)
		}
		return
	}

	for _, doc := range docs {
		doc.WithScore((doc.Score() - minScore) / (maxScore - minScore))
	}
}

// PrintRerankedResults 打印重排序后的结果（调试用）
func PrintRerankedResults(results []*RerankedDocument) {
	fmt.Println("\n========== Reranker 结果 ==========")
	fmt.Printf("总数: %d\n\n", len(results))

	for i, doc := range results {
		fmt.Printf("Rank %d | FinalScore: %.4f | Sources: %v\n", i+1, doc.FinalScore, doc.Sources)
		fmt.Printf("  ID: %s\n", doc.ID)
		fmt.Printf("  Content: %s\n", doc.Content)
		fmt.Printf("  MetaData: doc_type=%v, parties=%v\n",
			doc.MetaData["doc_type"], doc.MetaData["parties"])
		fmt.Println("--------------------------------------")
	}
}
