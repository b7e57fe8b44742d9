package service

import (
	"context"
	"fmt"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"
	"time"

	"contract-extract/logic/extract"
	"contract-extract/logic/ingestion/processors"
	"contract-extract/logic/prompt"
	schemaloader "contract-extract/logic/schema"
	"contract-extract/logic/review"
	"contract-extract/storage/es"
	"contract-extract/storage/postgres"
	"contract-extract/types"
	"contract-extract/vars"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/semantic"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// cleanText 清洗文本，去除可能导致 NaN 的特殊字符
func cleanText(text string) string {
	// 去除控制字符（除换行、制表符外）
	re := regexp.MustCompile(`[\x00-\x08\x0B-\x0C\x0E-\x1F\x7F]`)
	text = re.ReplaceAllString(text, "")

	// 合同里常见的填空下划线和点线引导符
	re = regexp.MustCompile(`_{3,}`)
	text = re.ReplaceAllString(text, " ")
	re = regexp.MustCompile(`\.{4,}`)
	text = re.ReplaceAllString(text, " ")

	// 去除过多的空白字符
	re = regexp.MustCompile(`\s+`)
	text = re.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// ExtractResult 一次抽取流水线的产出
type ExtractResult struct {
	DocID      string               `json:"doc_id"`
	Slug       string               `json:"slug"`
	Confidence float64              `json:"confidence"`
	Extracted  types.ExtractedObject `json:"extracted"`
	ReviewTask *postgres.ReviewTask `json:"review_task,omitempty"`
}

type ExtractionService struct {
	pgRepo    *postgres.DocumentRepo
	persister *postgres.Persister
	resolver  *schemaloader.Resolver
	completer extract.Completer
	embedder  embedding.Embedder
	indexer   indexer.Indexer
	esIndexer *es.ESIndexer
}

// 构造函数：依赖注入
func NewExtractionService(pgRepo *postgres.DocumentRepo, persister *postgres.Persister, resolver *schemaloader.Resolver, completer extract.Completer, embedder embedding.Embedder, idx indexer.Indexer, esIndexer *es.ESIndexer) *ExtractionService {
	return &ExtractionService{
		pgRepo:    pgRepo,
		persister: persister,
		resolver:  resolver,
		completer: completer,
		embedder:  embedder,
		indexer:   idx,
		esIndexer: esIndexer,
	}
}

// ProcessText 纯文本抽取流水线：解析 schema → 组装 prompt → 抽取修复循环 →
// 事务化落库 → 审核门 → 切分入索引
func (s *ExtractionService) ProcessText(ctx context.Context, docType, content, fileName string) (*ExtractResult, error) {
	startTime := time.Now()
	slug := prompt.NormalizeSlug(docType)

	sc, fewShot, meta, err := s.resolver.Resolve(slug, vars.BASE_SCHEMA_PATH, true)
	if err != nil {
		return nil, fmt.Errorf("resolve schema for %q: %w", slug, err)
	}
	if issues := s.resolver.Validate(sc, slug); len(issues) > 0 {
		fmt.Printf(">>> [Schema] %s 有 %d 个问题: %v\n", slug, len(issues), issues)
	}

	bundle, err := prompt.Build(sc, meta, fewShot, content)
	if err != nil {
		return nil, err
	}

	// 抽取 + 修复循环
	llmStart := time.Now()
	extracted, err := extract.Extract(ctx, s.completer, bundle, vars.EXTRACT_MAX_TRIES)
	if err != nil {
		return nil, err
	}
	fmt.Printf(">>> [性能] LLM 抽取耗时: %v\n", time.Since(llmStart))

	confidence := confidenceOf(extracted)

	// 同内容重跑要收敛到同一个 doc_id，否则义务幂等失效
	docSHA := postgres.ContentSHA256(content)
	docID := uuid.New().String()
	if prev, err := s.pgRepo.GetBySHA256(ctx, docSHA); err == nil && prev != nil {
		fmt.Printf(">>> [DEBUG] 内容已存在，复用 doc_id=%s\n", prev.DocID)
		docID = prev.DocID
	}
	if fileName == "" {
		fileName = docID + ".txt"
	}

	pgStart := time.Now()
	if err := s.persister.PersistWithProvenance(ctx, docID, fileName, slug, content, extracted, confidence); err != nil {
		return nil, fmt.Errorf("persist extraction: %w", err)
	}
	fmt.Printf(">>> [性能] PG 落库耗时: %v\n", time.Since(pgStart))

	result := &ExtractResult{
		DocID:      docID,
		Slug:       slug,
		Confidence: confidence,
		Extracted:  extracted,
	}

	// 审核门：落库成功之后才判定
	decision := review.Evaluate(confidence, extracted)
	if decision.Needed {
		task, err := s.pgRepo.CreateReviewTask(ctx, docID, docSHA, decision)
		if err != nil {
			fmt.Printf(">>> [Review] 创建审核任务失败: %v\n", err)
		} else {
			fmt.Printf(">>> [Review] 已创建审核任务: %s (priority=%.2f)\n", decision.Reason, decision.Priority)
			result.ReviewTask = task
		}
	}

	// 切分入索引；索引失败不回滚已落库的事实，只记日志
	if err := s.indexChunks(ctx, docID, slug, content, extracted, confidence, bundle.SchemaSHA256); err != nil {
		fmt.Printf(">>> [Index] 索引失败 (doc_id=%s): %v\n", docID, err)
	}

	fmt.Printf(">>> [性能] 单个文档总耗时: %v\n", time.Since(startTime))
	return result, nil
}

// UploadAndProcess PDF 上传入口：解析出文本后走同一条流水线
func (s *ExtractionService) UploadAndProcess(ctx context.Context, fileHeader *multipart.FileHeader, docType string) ([]*ExtractResult, error) {
	startTime := time.Now()
	srcFile, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer srcFile.Close()

	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, err
	}
	docs, err := p.Parse(ctx, srcFile, parser.WithURI(fileHeader.Filename))
	if err != nil {
		return nil, fmt.Errorf("parse pdf failed: %v", err)
	}
	fmt.Printf(">>> [性能] PDF 解析耗时: %v\n", time.Since(startTime))

	for _, doc := range docs {
		if doc.MetaData == nil {
			doc.MetaData = make(map[string]any)
		}
		doc.MetaData[file.MetaKeyFileName] = fileHeader.Filename
	}

	var results []*ExtractResult
	for _, doc := range docs {
		fileName, _ := doc.MetaData[file.MetaKeyFileName].(string)
		res, err := s.ProcessText(ctx, docType, doc.Content, fileName)
		if err != nil {
			fmt.Printf(">>> [ERROR] 文件 %s 抽取失败: %v\n", fileName, err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// indexChunks 语义切分 + ES/Milvus 双写
func (s *ExtractionService) indexChunks(ctx context.Context, docID, slug, content string, extracted types.ExtractedObject, confidence float64, schemaSHA string) error {
	splitter, err := semantic.NewSplitter(ctx, &semantic.Config{
		Embedding:    s.embedder,
		BufferSize:   5,
		MinChunkSize: 200,
		Separators:   []string{"\n\n", "\n", ". ", "; "},
		LenFunc: func(s string) int {
			return len([]rune(s))
		},
		Percentile: 0.85,
	})
	if err != nil {
		return err
	}

	splitStart := time.Now()
	chunks, err := splitter.Transform(ctx, []*schema.Document{{Content: content}})
	if err != nil {
		return fmt.Errorf("split failed: %v", err)
	}
	fmt.Printf(">>> [性能] 语义切分耗时: %v, 切分出 %d 个 chunk\n", time.Since(splitStart), len(chunks))

	for _, chunk := range chunks {
		chunk.Content = cleanText(chunk.Content)
	}
	parties := partyNames(extracted)
	chunks, err = processors.Processor(ctx, chunks, &processors.ChunkMeta{
		DocID:        docID,
		DocType:      slug,
		Parties:      parties,
		Confidence:   confidence,
		SchemaSHA256: schemaSHA,
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		fmt.Println(">>> [Index] 清洗后没有可索引的 chunk")
		return nil
	}

	// 重跑时先清掉旧切片，避免同一文档的新旧 chunk 混在索引里
	_ = s.esIndexer.DeleteByDocID(ctx, docID)

	esStart := time.Now()
	if err := s.esIndexer.Store(ctx, docID, chunks, parties); err != nil {
		return fmt.Errorf("es store failed: %v", err)
	}
	fmt.Printf(">>> [性能] ES 存储耗时: %v\n", time.Since(esStart))

	milvusStart := time.Now()
	if _, err := s.indexer.Store(ctx, chunks); err != nil {
		return fmt.Errorf("milvus store failed: %v", err)
	}
	fmt.Printf(">>> [性能] Milvus 存储耗时: %v\n", time.Since(milvusStart))
	return nil
}

// confidenceOf 读取模型自报的置信度，缺失时取 0.5 让审核门兜底
func confidenceOf(extracted types.ExtractedObject) float64 {
	for _, key := range []string{"confidence_score", "confidence"} {
		switch v := extracted[key].(type) {
		case float64:
			return clamp01(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return clamp01(f)
			}
		}
	}
	return 0.5
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// partyNames 从抽取结果里拿参与方名称（给 ES 关键词和 chunk 元数据用）
func partyNames(extracted types.ExtractedObject) []string {
	var names []string
	for _, item := range extracted.Slice("parties") {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"name", "full_legal_name", "party_name"} {
			if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
				names = append(names, strings.TrimSpace(v))
				break
			}
		}
	}
	return names
}
