package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contract-extract/logic/ingestion/transform/score"
	"contract-extract/logic/retrieval"
	"contract-extract/storage/es"
	"contract-extract/storage/milvus"
	"contract-extract/storage/postgres"
	"contract-extract/types"
	"contract-extract/vars"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
)

type RetrievalService struct {
	pgRepo       *postgres.DocumentRepo
	chatModel    model.ToolCallingChatModel
	embedder     embedding.Embedder
	milvusClient client.Client
	esClient     *elasticsearch.Client
}

func NewRetrievalService(pgRepo *postgres.DocumentRepo, chatModel model.ToolCallingChatModel, embedder embedding.Embedder, milvusClient client.Client, esClient *elasticsearch.Client) *RetrievalService {
	return &RetrievalService{
		pgRepo:       pgRepo,
		chatModel:    chatModel,
		embedder:     embedder,
		milvusClient: milvusClient,
		esClient:     esClient,
	}
}

// SearchResult 检索结果（结构化列表或融合后的切片）
type SearchResult struct {
	Intent    string                   `json:"intent"`
	Message   string                   `json:"message"`
	Documents []map[string]interface{} `json:"documents,omitempty"`
	Chunks    []map[string]interface{} `json:"chunks,omitempty"`
}

// Search 意图识别 + 检索实现
func (s *RetrievalService) Search(ctx context.Context, query string) (*SearchResult, error) {
	searchStart := time.Now()

	analyzeQuery, err := retrieval.AnalyzeQuery(ctx, query, s.chatModel)
	if err != nil {
		return nil, fmt.Errorf("analyze query failed: %w", err)
	}
	fmt.Printf(">>> [Intent] %+v\n", analyzeQuery)
	fmt.Printf(">>> [性能] 意图识别耗时: %v\n", time.Since(searchStart))

	if analyzeQuery.Intent == vars.PG {
		return s.structuredSearch(ctx, analyzeQuery)
	}
	return s.hybridSearch(ctx, analyzeQuery, searchStart)
}

// structuredSearch 结构化检索：ES 做参与方模糊匹配预筛，PG 应用其余过滤
func (s *RetrievalService) structuredSearch(ctx context.Context, intent *types.SearchIntent) (*SearchResult, error) {
	var esDocIDs []string
	var err error

	if len(intent.Filters.AnyParty) > 0 {
		esStart := time.Now()
		esDocIDs, err = es.SearchByParties(ctx, s.esClient, vars.ESINDEX, intent.Filters.AnyParty)
		if err != nil {
			return nil, fmt.Errorf("es party search failed: %w", err)
		}
		fmt.Printf(">>> [ES Party Search] 找到 %d 个唯一文档, 耗时: %v\n", len(esDocIDs), time.Since(esStart))

		if len(esDocIDs) == 0 {
			return &SearchResult{Intent: intent.Intent, Message: "No matching documents found"}, nil
		}
	}

	pgStart := time.Now()
	docIDs, err := s.pgRepo.SearchDocuments(ctx, &intent.Filters, esDocIDs)
	if err != nil {
		return nil, fmt.Errorf("pg filter failed: %w", err)
	}
	fmt.Printf(">>> [PG Filter] 筛选后剩 %d 份文档, 耗时: %v\n", len(docIDs), time.Since(pgStart))
	if len(docIDs) == 0 {
		return &SearchResult{Intent: intent.Intent, Message: "No matching documents found"}, nil
	}

	result := &SearchResult{
		Intent:  intent.Intent,
		Message: fmt.Sprintf("Found %d matching documents", len(docIDs)),
	}
	for _, id := range docIDs {
		doc, err := s.pgRepo.GetByDocID(ctx, id)
		if err != nil {
			continue
		}
		result.Documents = append(result.Documents, map[string]interface{}{
			"doc_id":     doc.DocID,
			"file_name":  doc.FileName,
			"doc_type":   doc.DocType,
			"confidence": doc.ConfidenceScore,
		})
	}
	return result, nil
}

// hybridSearch Milvus 向量检索 + ES BM25 检索，加权融合
func (s *RetrievalService) hybridSearch(ctx context.Context, intent *types.SearchIntent, searchStart time.Time) (*SearchResult, error) {
	fmt.Println(">>> [Hybrid Search] 开始混合检索...")

	milvusStart := time.Now()
	milvusDocs, err := milvus.Retriever(ctx, s.milvusClient, intent.SemanticQuery, &intent.Filters, s.embedder)
	if err != nil {
		return nil, fmt.Errorf("milvus retrieve failed: %w", err)
	}
	fmt.Printf(">>> [Milvus] 找到 %d 个结果, 耗时: %v\n", len(milvusDocs), time.Since(milvusStart))

	esStart := time.Now()
	esQuery := strings.TrimSpace(fmt.Sprintf("%s %s", intent.SemanticQuery, strings.Join(intent.Keywords, " ")))
	esDocs, err := es.Retriever(ctx, s.esClient, vars.ESINDEX, esQuery, convertFiltersToES(&intent.Filters), 10)
	if err != nil {
		return nil, fmt.Errorf("es retrieve failed: %w", err)
	}
	fmt.Printf(">>> [ES] 找到 %d 个结果, 耗时: %v\n", len(esDocs), time.Since(esStart))

	rerankStart := time.Now()
	rerankedDocs := score.HybridReranker(milvusDocs, esDocs, nil)
	fmt.Printf(">>> [性能] Reranker 融合耗时: %v\n", time.Since(rerankStart))

	score.PrintRerankedResults(rerankedDocs)

	result := &SearchResult{
		Intent:  intent.Intent,
		Message: fmt.Sprintf("Hybrid search returned %d chunks", len(rerankedDocs)),
	}
	for _, doc := range rerankedDocs {
		result.Chunks = append(result.Chunks, map[string]interface{}{
			"chunk_id":    doc.ID,
			"doc_id":      doc.MetaData["doc_id"],
			"doc_type":    doc.MetaData["doc_type"],
			"content":     doc.Content,
			"final_score": doc.FinalScore,
			"sources":     doc.Sources,
		})
	}

	fmt.Printf(">>> [性能总览] 检索总耗时: %v\n", time.Since(searchStart))
	return result, nil
}

// convertFiltersToES 将 types.FilterConditions 转换为 es.Filter
func convertFiltersToES(filters *types.FilterConditions) *es.Filter {
	if filters == nil {
		return nil
	}
	return &es.Filter{
		AnyParty:      filters.AnyParty,
		DocType:       filters.DocType,
		MinConfidence: filters.MinConfidence,
	}
}
