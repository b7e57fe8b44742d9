package postgres

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Document 文档是所有权根：extractions / obligations / evidence 都跟着它级联删除
type Document struct {
	// DocID 不用自增 ID，统一用外部生成的 UUID
	DocID           string  `gorm:"column:doc_id;primaryKey;type:uuid"`
	FileName        string  `gorm:"column:file_name;type:varchar(255);not null"`
	DocType         string  `gorm:"column:doc_type;type:varchar(100);index"` // slug
	SHA256          string  `gorm:"column:sha256;type:varchar(64);uniqueIndex"`
	Processed       bool    `gorm:"column:processed;default:false"`
	ConfidenceScore float64 `gorm:"column:confidence_score;type:decimal(4,3)"`
	// 完整抽取结果留档（jsonb），逐字段的 provenance 在 extractions 表
	ExtractedData string `gorm:"column:extracted_data;type:jsonb"`

	Extractions  []Extraction  `gorm:"foreignKey:DocID;references:DocID;constraint:OnDelete:CASCADE"`
	Parties      []Party       `gorm:"foreignKey:DocID;references:DocID;constraint:OnDelete:CASCADE"`
	Terms        []FinancialTerm `gorm:"foreignKey:DocID;references:DocID;constraint:OnDelete:CASCADE"`
	Obligations  []Obligation  `gorm:"foreignKey:DocID;references:DocID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Document) TableName() string {
	return "documents"
}

// Extraction 逐字段 provenance 记录，只追加不修改
// 重复抽取时旧行不动，新行用同样的 (doc_id, field_id) 顶上（timestamp 更新）
type Extraction struct {
	ID        string    `gorm:"column:id;primaryKey;type:uuid"`
	FieldID   string    `gorm:"column:field_id;type:varchar(100);index"`
	FieldName string    `gorm:"column:field_name;type:varchar(100);index"`
	Value     string    `gorm:"column:value;type:text"`
	DocID     string    `gorm:"column:doc_id;type:uuid;index"`
	DocSHA256 string    `gorm:"column:doc_sha256;type:varchar(64);index"`
	DocVersion int      `gorm:"column:doc_version;default:1"`
	Page      int       `gorm:"column:page"`
	Snippet   string    `gorm:"column:snippet;type:varchar(255)"`
	Extractor string    `gorm:"column:extractor;type:varchar(50)"`
	Confidence float64  `gorm:"column:confidence;type:decimal(4,3)"`
	Metadata  string    `gorm:"column:metadata;type:jsonb"`
	Timestamp time.Time `gorm:"column:timestamp"`
}

func (Extraction) TableName() string {
	return "extractions"
}

// Party 参与方实体行
type Party struct {
	PartyID    string `gorm:"column:party_id;primaryKey;type:uuid"`
	DocID      string `gorm:"column:doc_id;type:uuid;uniqueIndex:idx_party_identity"`
	PartyName  string `gorm:"column:party_name;type:varchar(255);uniqueIndex:idx_party_identity"`
	PartyRole  string `gorm:"column:party_role;type:varchar(100);uniqueIndex:idx_party_identity"`
	EntityType string `gorm:"column:entity_type;type:varchar(50)"`
	CreatedAt  time.Time
}

func (Party) TableName() string {
	return "parties"
}

// FinancialTerm 金额条款实体行
type FinancialTerm struct {
	TermID      string  `gorm:"column:term_id;primaryKey;type:uuid"`
	DocID       string  `gorm:"column:doc_id;type:uuid;index"`
	Amount      float64 `gorm:"column:amount;type:decimal(15,2)"`
	Description string  `gorm:"column:description;type:text"`
	PaymentType string  `gorm:"column:payment_type;type:varchar(50)"`
	CreatedAt   time.Time
}

func (FinancialTerm) TableName() string {
	return "financial_terms"
}

// Obligation 义务实体
// (document_id, obligation_hash) 唯一，重复抽取同一份文档永远只有一行
type Obligation struct {
	ObligationID     string     `gorm:"column:obligation_id;primaryKey;type:uuid"`
	DocID            string     `gorm:"column:document_id;type:uuid;uniqueIndex:idx_obligation_identity"`
	ObligationHash   string     `gorm:"column:obligation_hash;type:varchar(64);uniqueIndex:idx_obligation_identity"`
	ObligationType   string     `gorm:"column:obligation_type;type:varchar(100);index"`
	Status           string     `gorm:"column:status;type:varchar(30);index"`
	TriggerEvent     string     `gorm:"column:trigger_event;type:varchar(255)"`
	ResponsibleParty string     `gorm:"column:responsible_party;type:varchar(255)"`
	DueDate          *time.Time `gorm:"column:due_date;index"`
	Description      string     `gorm:"column:description;type:text"`
	Superseded       bool       `gorm:"column:superseded;default:false"`

	Evidence []EvidenceLink `gorm:"foreignKey:ObligationID;references:ObligationID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Obligation) TableName() string {
	return "obligations"
}

// EvidenceLink 义务 → (文档, 页码区间) 的证据关联
// 唯一性不看 note：同一个 tuple 换个备注再插必须是 no-op
type EvidenceLink struct {
	ID                 uint   `gorm:"column:id;primaryKey;autoIncrement"`
	ObligationID       string `gorm:"column:obligation_id;type:uuid;uniqueIndex:idx_evidence_tuple"`
	EvidenceDocumentID string `gorm:"column:evidence_document_id;type:uuid;uniqueIndex:idx_evidence_tuple"`
	PageFrom           int    `gorm:"column:page_from;uniqueIndex:idx_evidence_tuple"`
	PageTo             int    `gorm:"column:page_to;uniqueIndex:idx_evidence_tuple"`
	Note               string `gorm:"column:note;type:text"`
	CreatedAt          time.Time
}

func (EvidenceLink) TableName() string {
	return "obligation_evidence_links"
}

// ReviewTask 人工审核任务，只追加
// 通过 doc_sha256 关联文档而不是独占外键，一份文档可以攒出多条审核历史
type ReviewTask struct {
	ID          string  `gorm:"column:id;primaryKey;type:uuid"`
	TaskType    string  `gorm:"column:task_type;type:varchar(50)"`
	Reason      string  `gorm:"column:reason;type:text"`
	DocID       string  `gorm:"column:doc_id;type:uuid;index"`
	DocSHA256   string  `gorm:"column:doc_sha256;type:varchar(64);index"`
	Priority    float64 `gorm:"column:priority;type:decimal(4,3);index"`
	Criticality float64 `gorm:"column:criticality;type:decimal(4,3)"`
	Confidence  float64 `gorm:"column:confidence;type:decimal(4,3)"`
	Impact      float64 `gorm:"column:impact;type:decimal(4,3)"`
	Status      string  `gorm:"column:status;type:varchar(30);index"`
	CreatedAt   time.Time
}

func (ReviewTask) TableName() string {
	return "review_tasks"
}

// ObligationHashOf 义务的语义身份指纹：type + trigger + responsible_party
// 刻意不含 description / due_date / status，这些是可变内容，重复抽取时原地更新
func ObligationHashOf(obligationType, triggerEvent, responsibleParty string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	key := norm(obligationType) + "|" + norm(triggerEvent) + "|" + norm(responsibleParty)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ContentSHA256 文档正文哈希，去重和 provenance 的稳定连接键
func ContentSHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
