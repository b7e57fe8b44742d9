package milvus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"contract-extract/types"
	"contract-extract/vars"

	"github.com/cloudwego/eino-ext/components/retriever/milvus"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Retriever 执行向量检索（接收外部创建的 Client）
// query: 语义查询语句 (semantic_query)
// filters: 标量过滤
func Retriever(ctx context.Context, cli client.Client, query string, filters *types.FilterConditions, emb embedding.Embedder) ([]*schema.Document, error) {

	// 自定义 DocumentConverter，包含分数信息
	customConverter := func(ctx context.Context, result client.SearchResult) ([]*schema.Document, error) {
		docs := make([]*schema.Document, result.IDs.Len())
		for i := 0; i < result.IDs.Len(); i++ {
			id, err := result.IDs.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to get id: %w", err)
			}

			doc := &schema.Document{
				ID:       id,
				MetaData: make(map[string]any),
			}
			// result.Scores 是 []float32，需要转为 float64
			if result.Scores != nil && len(result.Scores) > i {
				doc = doc.WithScore(float64(result.Scores[i]))
			}

			for _, field := range result.Fields {
				fieldName := field.Name()
				var value interface{}
				var err error

				// 根据字段名选择正确的获取方法
				switch fieldName {
				case "content":
					value, err = field.GetAsString(i)
					if err == nil {
						doc.Content = value.(string)
					}
				case "doc_id", "doc_type", "parties", "schema_sha256":
					value, err = field.GetAsString(i)
					if err == nil {
						doc.MetaData[fieldName] = value
					} else {
						log.Printf(">>> [Warning] 字段 %s 获取失败 (索引 %d): %v", fieldName, i, err)
					}
				case "confidence":
					value, err = field.GetAsDouble(i)
					if err == nil {
						doc.MetaData[fieldName] = value
					} else {
						log.Printf(">>> [Warning] 字段 %s 获取失败 (索引 %d): %v", fieldName, i, err)
					}
				default:
					log.Printf(">>> [Info] 遇到未知字段 %s，跳过", fieldName)
					continue
				}
			}
			docs[i] = doc
		}
		return docs, nil
	}

	retr, err := milvus.NewRetriever(ctx, &milvus.RetrieverConfig{
		Client:            cli,
		Collection:        vars.COLLECTION,
		VectorField:       "vector",
		OutputFields:      []string{"content", "doc_id", "doc_type", "parties", "confidence"},
		DocumentConverter: customConverter,
		MetricType:        entity.L2,
		TopK:              10,
		Embedding:         emb,
	})
	if err != nil {
		return nil, fmt.Errorf("init retriever failed: %v", err)
	}

	// 确保 Collection 已加载到内存
	loadStart := time.Now()
	err = cli.LoadCollection(ctx, vars.COLLECTION, false)
	if err != nil {
		log.Printf(">>> [Milvus] LoadCollection warning: %v", err)
		// 不中断，继续尝试查询
	} else {
		// 等待加载完成（最多 5 秒）
		loadDeadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(loadDeadline) {
			loadState, _ := cli.GetLoadState(ctx, vars.COLLECTION, []string{})
			// 3 = LoadStateLoaded
			if loadState == 3 {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		log.Printf(">>> [Milvus] Collection 加载耗时: %v", time.Since(loadStart))
	}

	fmt.Println(">>> [Milvus] 全局语义检索")
	docs, err := retr.Retrieve(ctx, query, milvus.WithFilter(BuildExpr(filters)))
	if err != nil {
		return nil, fmt.Errorf("milvus retrieve failed: %v", err)
	}

	fmt.Printf("\n>>> [Milvus Retrieval] 找到 %d 个结果\n", len(docs))
	for i, doc := range docs {
		fmt.Printf("Rank %d | Score: %.4f | ID: %s\n", i+1, doc.Score(), doc.ID)
		fmt.Printf("Content: %s\n", truncateString(doc.Content, 200))
		fmt.Println("----------------------------------------------")
	}

	return docs, nil
}

// BuildExpr 构建标量过滤表达式
func BuildExpr(filters *types.FilterConditions) string {
	if filters == nil {
		return ""
	}
	var exprs []string

	// parties 字段存的是拼接字符串，用 like 做子串匹配
	if len(filters.AnyParty) > 0 {
		var partyExprs []string
		for _, party := range filters.AnyParty {
			partyExprs = append(partyExprs, fmt.Sprintf("parties like '%%%s%%'", escapeExpr(party)))
		}
		exprs = append(exprs, fmt.Sprintf("(%s)", strings.Join(partyExprs, " || ")))
	}

	if filters.DocType != "" {
		exprs = append(exprs, fmt.Sprintf("doc_type == '%s'", escapeExpr(filters.DocType)))
	}

	if filters.MinConfidence != nil && *filters.MinConfidence > 0 {
		exprs = append(exprs, fmt.Sprintf("confidence >= %f", *filters.MinConfidence))
	}

	// 使用 && 连接所有条件
	return strings.Join(exprs, " && ")
}

func escapeExpr(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// truncateString 截断字符串用于显示
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
