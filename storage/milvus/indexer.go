package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/indexer/milvus"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

func NewMilvusIndexer(ctx context.Context, embedder embedding.Embedder, milvusAddr string, collectionName string) (indexer.Indexer, error) {
	fmt.Printf(">>> [Milvus] 正在连接: %s ...\n", milvusAddr)
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cli, err := client.NewClient(connectCtx, client.Config{
		Address: milvusAddr,
	})
	if err != nil {
		return nil, errors.New(fmt.Sprintf("连接milvus失败%v", err))
	}
	fmt.Println(">>> [Milvus] 连接成功")
	return NewMilvusIndexerWithClient(ctx, cli, embedder, collectionName)
}

// NewMilvusIndexerWithClient 使用外部创建的 Client（复用连接）
func NewMilvusIndexerWithClient(ctx context.Context, cli client.Client, embedder embedding.Embedder, collectionName string) (indexer.Indexer, error) {
	fmt.Println(">>> [Milvus] 使用已有连接")

	// 探测实际向量维度
	vecs, err := embedder.EmbedStrings(ctx, []string{"test"})
	if err != nil {
		return nil, fmt.Errorf("Embedder 坏了: %v", err)
	}
	dim := len(vecs[0])
	fmt.Printf(">>> [Milvus] 实际使用的维度是: %d\n", dim)

	// 定义 Schema
	// 标量字段来自抽取结果的文档级元数据，供检索时做过滤
	fields := []*entity.Field{
		{
			Name:       "id", // 主键
			DataType:   entity.FieldTypeVarChar,
			PrimaryKey: true,
			TypeParams: map[string]string{"max_length": "64"},
		},
		{
			Name:       "doc_id",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "64"},
		},
		{
			Name:       "vector",
			DataType:   entity.FieldTypeFloatVector,
			TypeParams: map[string]string{"dim": fmt.Sprintf("%d", dim)},
		},
		{
			Name:       "content",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "65535"},
		},
		{
			Name:       "doc_type",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "128"},
		},
		{
			Name:       "parties",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "2048"},
		},
		{
			Name:     "confidence",
			DataType: entity.FieldTypeDouble,
		},
		{
			Name:       "schema_sha256",
			DataType:   entity.FieldTypeVarChar,
			TypeParams: map[string]string{"max_length": "64"},
		},
		{
			Name:     "metadata",
			DataType: entity.FieldTypeJSON,
		},
	}

	// 自定义 DocumentConverter：从 chunk 的 MetaData 中取标量字段
	customConverter := func(ctx context.Context, docs []*schema.Document, vectors [][]float64) ([]interface{}, error) {
		rows := make([]interface{}, 0, len(docs))
		for i, doc := range docs {
			// eino 的 embedder 输出 float64，milvus 需要 float32
			vec32 := make([]float32, len(vectors[i]))
			for j, v := range vectors[i] {
				vec32[j] = float32(v)
			}

			metaBytes, err := json.Marshal(doc.MetaData)
			if err != nil {
				metaBytes = []byte("{}")
			}

			row := map[string]interface{}{
				"id":            doc.ID,
				"doc_id":        metaString(doc.MetaData, "doc_id"),
				"vector":        vec32,
				"content":       doc.Content,
				"doc_type":      metaString(doc.MetaData, "doc_type"),
				"parties":       metaString(doc.MetaData, "parties"),
				"confidence":    metaFloat(doc.MetaData, "confidence"),
				"schema_sha256": metaString(doc.MetaData, "schema_sha256"),
				"metadata":      metaBytes,
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	idx, err := milvus.NewIndexer(ctx, &milvus.IndexerConfig{
		Client:            cli,
		Collection:        collectionName,
		Embedding:         embedder,
		Fields:            fields,
		DocumentConverter: customConverter,
		MetricType:        milvus.L2,
	})
	if err != nil {
		return nil, fmt.Errorf("init milvus indexer failed: %v", err)
	}

	if err := ensureIndexes(ctx, cli, collectionName); err != nil {
		fmt.Printf(">>> [Milvus] 索引创建警告: %v\n", err)
	}

	return idx, nil
}

// ensureIndexes 建向量索引与标量索引，然后把 Collection 加载进内存
func ensureIndexes(ctx context.Context, cli client.Client, collectionName string) error {
	// 先 Release 才能操作索引；表本来没 Load 时 Release 会报错，可忽略
	if err := cli.ReleaseCollection(ctx, collectionName); err != nil {
		fmt.Printf(">>> [Milvus] Release 提示 (可忽略): %v\n", err)
	}
	if err := cli.DropIndex(ctx, collectionName, "vector"); err != nil {
		fmt.Printf(">>> [Milvus] DropIndex 提示: %v\n", err)
	}

	vecIdx, err := entity.NewIndexHNSW(entity.L2, 16, 200)
	if err != nil {
		return fmt.Errorf("build hnsw index failed: %v", err)
	}
	if err := cli.CreateIndex(ctx, collectionName, "vector", vecIdx, false); err != nil {
		return fmt.Errorf("create hnsw index failed: %v", err)
	}

	for _, field := range []string{"doc_id", "doc_type", "parties"} {
		scalarIdx := entity.NewScalarIndex()
		if err := cli.CreateIndex(ctx, collectionName, field, scalarIdx, false); err != nil {
			fmt.Printf(">>> [Milvus] 标量索引 %s 已存在或创建失败: %v\n", field, err)
		}
	}

	if err := cli.LoadCollection(ctx, collectionName, false); err != nil {
		return fmt.Errorf("load collection failed: %v", err)
	}
	return nil
}

// DropCollection 删除整个 Collection（重建 Schema 时用）
func DropCollection(ctx context.Context, cli client.Client, collectionName string) error {
	has, err := cli.HasCollection(ctx, collectionName)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	_ = cli.ReleaseCollection(ctx, collectionName)
	return cli.DropCollection(ctx, collectionName)
}

// DeleteByDocID 按 doc_id 删除该文档的全部向量分块
func DeleteByDocID(ctx context.Context, cli client.Client, collectionName string, docID string) error {
	expr := fmt.Sprintf("doc_id == '%s'", docID)
	if err := cli.Delete(ctx, collectionName, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %v", err)
	}
	fmt.Printf(">>> [Milvus] 已删除文档 %s 的向量分块\n", docID)
	return nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
