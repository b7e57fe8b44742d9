package types

// ExtractedObject LLM 抽取出来的对象
// 形状由各 doc type 的 schema 决定，所以不能用固定 struct，统一用 map 承载，
// 校验交给 JSON Schema（schema 是形状的唯一事实来源）
type ExtractedObject map[string]interface{}

// Slice 取出一个数组字段（parties / financial_terms / dates 等语义组）
func (o ExtractedObject) Slice(key string) []interface{} {
	if o == nil {
		return nil
	}
	if v, ok := o[key].([]interface{}); ok {
		return v
	}
	return nil
}

// Object 取出一个嵌套对象字段（property_details / document_type 等）
func (o ExtractedObject) Object(key string) map[string]interface{} {
	if o == nil {
		return nil
	}
	if v, ok := o[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// HasItems 语义组是否非空（审核策略要看 parties / financial_terms 是否缺失）
func (o ExtractedObject) HasItems(key string) bool {
	return len(o.Slice(key)) > 0
}

// EvidencePayload 义务的证据引用（文档 + 页码区间 + 备注）
// 备注不参与唯一性判定
type EvidencePayload struct {
	DocumentID string `json:"document_id,omitempty"` // 为空时默认指向义务所属文档
	PageFrom   int    `json:"page_from"`
	PageTo     int    `json:"page_to"`
	Note       string `json:"note,omitempty"`
}

// ObligationPayload apply_extraction 的义务入参
// ObligationType + TriggerEvent + ResponsibleParty 构成语义身份（参与哈希），
// 其余字段是可变内容，重复抽取时原地更新
type ObligationPayload struct {
	ObligationType   string            `json:"obligation_type"`
	Status           string            `json:"status"`
	TriggerEvent     string            `json:"trigger_event,omitempty"`
	ResponsibleParty string            `json:"responsible_party,omitempty"`
	DueDate          string            `json:"due_date,omitempty"` // YYYY-MM-DD
	Description      string            `json:"description,omitempty"`
	Evidence         []EvidencePayload `json:"evidence,omitempty"`
}

// ExtractionPayload 持久化入参：抽取字段 + 义务列表
type ExtractionPayload struct {
	ExtractedFields ExtractedObject     `json:"extracted_fields"`
	Obligations     []ObligationPayload `json:"obligations"`
}
