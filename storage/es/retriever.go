package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Filter ES 检索的过滤条件
type Filter struct {
	AnyParty      []string // 参与方过滤（匹配 parties 字段里的任意实体）
	DocType       string   // 文档类型 slug
	MinConfidence *float64 // 抽取置信度下限
	DocIDs        []string // 文档 ID 列表（混合检索时限定范围）
}

// Retriever 执行 ES 检索
// query: 关键词查询语句（BM25）
// filters: 可选过滤条件（nil 表示无过滤）
// topK: 返回结果数量
func Retriever(ctx context.Context, client *elasticsearch.Client, index string, query string, filters *Filter, topK int) ([]*schema.Document, error) {
	esQuery := buildESQuery(query, filters, topK)

	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("error encoding query: %s", err)
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(buf.String()),
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("error getting response: %s", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error response: %s", res.String())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error parsing response body: %s", err)
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid response format")
	}

	hitsList, ok := hits["hits"].([]interface{})
	if !ok {
		return []*schema.Document{}, nil // 无结果
	}

	docs := make([]*schema.Document, 0, len(hitsList))
	for _, hit := range hitsList {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}

		id, _ := hitMap["_id"].(string)
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}

		var score float64
		if scoreVal, ok := hitMap["_score"].(float64); ok {
			score = scoreVal
		}

		doc := &schema.Document{
			ID:       id,
			Content:  toString(source["content"]),
			MetaData: make(map[string]any),
		}
		doc = doc.WithScore(score)

		for _, key := range []string{"doc_id", "chunk_id", "doc_type", "parties", "confidence"} {
			if val, ok := source[key]; ok {
				doc.MetaData[key] = val
			}
		}

		docs = append(docs, doc)
	}

	log.Printf(">>> [ES] Retrieved %d results", len(docs))
	return docs, nil
}

// SearchByParties 只在 parties 字段做模糊匹配（结构化检索的预过滤）
// 返回去重后的 doc_id 列表
func SearchByParties(ctx context.Context, client *elasticsearch.Client, index string, parties []string) ([]string, error) {
	if len(parties) == 0 {
		return []string{}, nil
	}

	var shouldConditions []map[string]interface{}
	for _, party := range parties {
		shouldConditions = append(shouldConditions, map[string]interface{}{
			"match": map[string]interface{}{
				"parties": party,
			},
		})
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               shouldConditions,
				"minimum_should_match": 1, // 至少匹配一个条件
			},
		},
		"size":    100,
		"_source": []string{"doc_id"}, // 只取 doc_id，减少传输
	}

	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("error encoding query: %s", err)
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(buf.String()),
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("error getting response: %s", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error response: %s", res.String())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error parsing response body: %s", err)
	}

	hits, ok := result["hits"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid response format")
	}

	hitsList, ok := hits["hits"].([]interface{})
	if !ok {
		return []string{}, nil
	}

	docIDSet := make(map[string]struct{})
	for _, hit := range hitsList {
		hitMap, ok := hit.(map[string]interface{})
		if !ok {
			continue
		}
		source, ok := hitMap["_source"].(map[string]interface{})
		if !ok {
			continue
		}
		if docID, ok := source["doc_id"].(string); ok {
			docIDSet[docID] = struct{}{}
		}
	}

	docIDs := make([]string, 0, len(docIDSet))
	for id := range docIDSet {
		docIDs = append(docIDs, id)
	}

	log.Printf(">>> [ES Party Search] 找到 %d 个唯一 doc_id", len(docIDs))
	return docIDs, nil
}

// buildESQuery 构建 ES 查询语句（BM25 + 过滤）
func buildESQuery(query string, filters *Filter, topK int) map[string]interface{} {
	mustQueries := []map[string]interface{}{
		{
			"match": map[string]interface{}{
				"content": map[string]interface{}{
					"query": query,
				},
			},
		},
	}

	filterQueries := buildFilterQueries(filters)

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   mustQueries,
				"filter": filterQueries,
			},
		},
		"size": topK,
	}
}

// buildFilterQueries 构建过滤条件列表
func buildFilterQueries(filters *Filter) []map[string]interface{} {
	if filters == nil {
		return nil
	}

	var filterQueries []map[string]interface{}

	// AnyParty（多个实体，bool should 至少命中一个）
	if len(filters.AnyParty) > 0 {
		var shouldConditions []map[string]interface{}
		for _, party := range filters.AnyParty {
			shouldConditions = append(shouldConditions, map[string]interface{}{
				"match": map[string]interface{}{
					"parties": party,
				},
			})
		}
		filterQueries = append(filterQueries, map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               shouldConditions,
				"minimum_should_match": 1,
			},
		})
	}

	if filters.DocType != "" {
		filterQueries = append(filterQueries, map[string]interface{}{
			"term": map[string]interface{}{
				"doc_type": filters.DocType,
			},
		})
	}

	if filters.MinConfidence != nil {
		filterQueries = append(filterQueries, map[string]interface{}{
			"range": map[string]interface{}{
				"confidence": map[string]interface{}{
					"gte": *filters.MinConfidence,
				},
			},
		})
	}

	// doc_id 列表过滤（混合检索）
	if len(filters.DocIDs) > 0 {
		filterQueries = append(filterQueries, map[string]interface{}{
			"terms": map[string]interface{}{
				"doc_id": filters.DocIDs,
			},
		})
	}

	return filterQueries
}

// toString 安全地将任意类型转为 string
func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}
