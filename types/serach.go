package types

// --- 常量定义 ---

// 义务状态直接存 string（和 LLM 输出对齐），文档处理状态用 int 0/1
const (
	ObligationOpen      = "open"
	ObligationOverdue   = "overdue"
	ObligationCompleted = "completed"
	ObligationWaived    = "waived"
	ObligationClosed    = "closed"
)

// TerminalObligation 终态义务不再被到期扫描和 supersede 改动
func TerminalObligation(status string) bool {
	return status == ObligationCompleted || status == ObligationWaived || status == ObligationClosed
}

// --- 结构体定义 ---

type SearchRequest struct {
	Query string `json:"query" binding:"required"`
}

type ExtractRequest struct {
	DocType  string `json:"doc_type" binding:"required"` // slug 或别名，如 "psa"
	Content  string `json:"content" binding:"required"`
	FileName string `json:"file_name,omitempty"`
}

// SearchIntent LLM 解析后的用户意图
type SearchIntent struct {
	Intent        string           `json:"intent"` // "structured_only", "semantic_only", "hybrid"
	Filters       FilterConditions `json:"filters"`
	SemanticQuery string           `json:"semantic_query"`
	Keywords      []string         `json:"keywords"`
}

// FilterConditions 过滤条件 (用于 Repo 查询)
type FilterConditions struct {
	AnyParty []string `json:"any_party,omitempty"` // 数组，支持多个实体
	DocType  string   `json:"doc_type,omitempty"`  // slug

	// LLM 输出 "reviewed"/"pending" 这种字符串，Service 层解释
	Reviewed string `json:"reviewed,omitempty"`

	DateRange      *DateRange   `json:"date_range,omitempty"`
	AmountRange    *AmountRange `json:"amount_range,omitempty"`
	MinConfidence  *float64     `json:"min_confidence,omitempty"`
	ObligationsDue bool         `json:"obligations_due,omitempty"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type AmountRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}
