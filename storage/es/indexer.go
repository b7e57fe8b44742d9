package es

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v8/esutil"
)

type ESIndexer struct {
	client *elasticsearch.Client
	index  string
}

// GetClient 返回 ES 客户端（检索用）
func (e *ESIndexer) GetClient() *elasticsearch.Client {
	return e.client
}

// NewESIndexer 初始化 ES 客户端并确保索引存在
func NewESIndexer(addresses []string, indexName string) (*ESIndexer, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
	}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating the client: %s", err)
	}

	indexer := &ESIndexer{client: es, index: indexName}

	// 初始化索引 Mapping (定义字段类型)
	if err := indexer.initMapping(context.Background()); err != nil {
		return nil, err
	}

	return indexer, nil
}

func (e *ESIndexer) initMapping(ctx context.Context) error {
	// 1. 检查索引是否存在
	res, err := e.client.Indices.Exists([]string{e.index})
	if err != nil {
		return err
	}
	if res.StatusCode == 200 {
		return nil // 已存在，跳过
	}

	// 2. 定义 Mapping（合同是英文法律文本，用 english 分词器）
	mapping := `
	{
	  "settings": {
		"number_of_shards": 1,
		"number_of_replicas": 0
	  },
	  "mappings": {
		"properties": {
		  "doc_id":    { "type": "keyword" },
		  "chunk_id":  { "type": "keyword" },
		  "content": {
			"type": "text",
			"analyzer": "english"
		  },
		  "doc_type":  { "type": "keyword" },
		  "parties": {
			"type": "text",
			"analyzer": "english",
			"fields": {
			  "keyword": { "type": "keyword" }
			}
		  },
		  "confidence":   { "type": "double" },
		  "schema_sha256": { "type": "keyword" }
		}
	  }
	}`

	log.Printf(">>> [ES] Creating index %s ...", e.index)
	res, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("create index error: %v", err)
	}
	if res.IsError() {
		return fmt.Errorf("create index response error: %s", res.String())
	}
	return nil
}

// Store 批量存储文档分块，元数据带上抽取结果（doc_type / parties / confidence）
func (e *ESIndexer) Store(ctx context.Context, docID string, chunks []*schema.Document, parties []string) error {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Index:         e.index,
		Client:        e.client,
		FlushInterval: 1, // 开发环境立即刷新
	})
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		docModel := map[string]interface{}{
			"doc_id":   docID,
			"chunk_id": chunk.ID,
			"content":  chunk.Content,
			"parties":  parties,
		}
		if val, ok := chunk.MetaData["doc_type"]; ok {
			docModel["doc_type"] = val
		}
		if val, ok := chunk.MetaData["confidence"]; ok {
			docModel["confidence"] = val
		}
		if val, ok := chunk.MetaData["schema_sha256"]; ok {
			docModel["schema_sha256"] = val
		}

		data, _ := json.Marshal(docModel)

		// ChunkID 作为 ES 的 _id，重复写入不产生重复文档
		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: chunk.ID,
			Body:       strings.NewReader(string(data)),
		})
		if err != nil {
			return err
		}
	}

	if err := bi.Close(ctx); err != nil {
		return err
	}
	return nil
}

// DeleteByDocID 按 doc_id 删除该文档的所有分块
func (e *ESIndexer) DeleteByDocID(ctx context.Context, docID string) error {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"doc_id": docID,
			},
		},
	}

	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("error encoding query: %s", err)
	}

	res, err := e.client.DeleteByQuery(
		[]string{e.index},
		strings.NewReader(buf.String()),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete by query error: %v", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query response error: %s", res.String())
	}
	return nil
}
