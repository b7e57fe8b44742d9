package vars

import (
	"os"
	"strconv"
)

// GetEnv 获取环境变量，如果不存在则返回默认值
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvFloat 获取浮点型环境变量
func GetEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvInt 获取整型环境变量
func GetEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

const (
	// 模型名称
	NOMIC  = "nomic-embed-text"
	QWEN7B = "qwen2.5:7b"
	QWEN3B = "qwen2.5:3b"
	GPT4O  = "gpt-4o-mini"

	// Milvus Collection 名称
	COLLECTION = "extraction_chunks_v1"

	// ES 索引名称
	ESINDEX = "extraction_chunks_v1"

	// 检索方式
	ML = "semantic_only"
	PG = "structured_only"
	HY = "hybrid"

	// 提取器标签（写入 extractions 表的 extractor 字段）
	ExtractorModel = "model"

	// HIL 审核策略（priority = criticality * (1 - confidence) * impact）
	ReviewConfidenceThreshold = 0.8
	ReviewCriticality         = 0.8
	ReviewImpact              = 1.0

	// 提取 snippet 截断长度（审计展示用，不是全文）
	SnippetMaxLen = 200

	// 到期提醒窗口（天）
	DueSoonDays = 60
)

// 环境变量配置（支持 Docker 部署）
var (
	// OLLAMA
	OLLAMA_PATH = GetEnv("OLLAMA_PATH", "http://localhost:11434")

	// PG
	PGUSER = GetEnv("PGUSER", "root")
	PGPWD  = GetEnv("PGPWD", "root")
	PGDB   = GetEnv("PGDB", "extractDB")
	PGHOST = GetEnv("PGHOST", "localhost")
	PGPORT = GetEnv("PGPORT", "5432")

	// Milvus
	MILVUSADDR = GetEnv("MILVUSADDR", "127.0.0.1:19530")

	// ES
	ESADDR = GetEnv("ESADDR", "http://localhost:9200")

	// 文档类型 schema 目录（每个 slug 一个子目录）
	DOC_TYPES_DIR    = GetEnv("DOC_TYPES_DIR", "config/prompts/document_types")
	BASE_SCHEMA_PATH = GetEnv("BASE_SCHEMA_PATH", "config/schema.json")

	// 提取参数
	EXTRACT_PROVIDER   = GetEnv("EXTRACT_PROVIDER", "ollama") // ollama / openai
	EXTRACT_MODEL      = GetEnv("EXTRACT_MODEL", QWEN7B)
	EXTRACT_T          = GetEnvFloat("EXTRACT_T", 0.0)
	EXTRACT_MAX_TOKENS = GetEnvInt("EXTRACT_MAX_TOKENS", 4096)
	EXTRACT_MAX_TRIES  = GetEnvInt("EXTRACT_MAX_TRIES", 3)
	EXTRACT_TIMEOUT_S  = GetEnvInt("EXTRACT_TIMEOUT_S", 120)

	// 管理接口口令
	SELF_TEST_TOKEN = GetEnv("SELF_TEST_TOKEN", "changeme")

	// OpenAI
	OPENAI_API_KEY  = GetEnv("OPENAI_API_KEY", "")
	OPENAI_BASE_URL = GetEnv("OPENAI_BASE_URL", "")
)

// EXTRACTION_PRE_PROMPT 提取契约前导词：不可协商的指令，放在每个 prompt 的最前面
const EXTRACTION_PRE_PROMPT = `You are a contract extraction specialist. Your task is to extract structured data from the provided document according to the given JSON schema.

CRITICAL INSTRUCTIONS:
1. Extract ONLY what is explicitly stated in the document
2. Use null for missing/unclear information
3. Preserve exact wording for direct quotes
4. Include page numbers and context when available
5. Focus on accuracy over completeness

OUTPUT REQUIREMENTS:
- Return ONLY a valid JSON object matching the provided schema
- No explanations or commentary
- Use proper JSON formatting with double quotes
`
