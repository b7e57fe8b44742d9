package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"contract-extract/types"
	"contract-extract/vars"
)

// SelfTestResult 管理端自检结果，逐步记录方便定位
type SelfTestResult struct {
	OK    bool                     `json:"ok"`
	Steps []map[string]interface{} `json:"steps"`
	Error string                   `json:"error,omitempty"`
}

// Health 轻量健康检查：表是否都建好了
func (r *DocumentRepo) Health(ctx context.Context) map[string]interface{} {
	tables := []string{"documents", "obligations", "obligation_evidence_links", "review_tasks"}
	present := make([]string, 0, len(tables))
	for _, t := range tables {
		if r.db.WithContext(ctx).Migrator().HasTable(t) {
			present = append(present, t)
		}
	}
	return map[string]interface{}{
		"ok":      len(present) == len(tables),
		"now_utc": time.Now().UTC(),
		"tables":  present,
	}
}

// SelfTest 数据库不变量自检，所有写入最后整体回滚，库保持干净
// 验证四件事：文档插入、apply_extraction 幂等（跑两遍只有一行义务）、
// 证据链接换 note 不产生新行、到期窗口查询能看到测试义务
func (r *DocumentRepo) SelfTest(ctx context.Context) *SelfTestResult {
	result := &SelfTestResult{}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		result.Error = tx.Error.Error()
		return result
	}
	// 自检写入永不落盘
	defer tx.Rollback()

	// 1) 插入测试文档
	docID := uuid.New().String()
	doc := &Document{
		DocID:     docID,
		FileName:  "SELFTEST_DOC",
		DocType:   "unknown",
		SHA256:    ContentSHA256("selftest:" + docID),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := tx.Create(doc).Error; err != nil {
		result.Error = err.Error()
		return result
	}
	result.Steps = append(result.Steps, map[string]interface{}{
		"insert_document": "INSERT 0 1", "doc_id": docID,
	})

	// 2) apply_extraction 幂等（(document_id, obligation_hash) upsert）
	due := time.Now().AddDate(0, 0, 30).Format("2006-01-02")
	payload := types.ExtractionPayload{
		ExtractedFields: types.ExtractedObject{"doc_type_guess": "PSA"},
		Obligations: []types.ObligationPayload{{
			ObligationType:   "make_payment",
			Status:           types.ObligationOpen,
			TriggerEvent:     "Close of Escrow",
			DueDate:          due,
			ResponsibleParty: "Buyer",
			Description:      "Pay transfer tax at recording",
			Evidence:         []types.EvidencePayload{{PageFrom: 7, PageTo: 7, Note: "§7.3"}},
		}},
	}
	if err := ApplyExtraction(tx, docID, payload, true); err != nil {
		result.Error = err.Error()
		return result
	}
	if err := ApplyExtraction(tx, docID, payload, true); err != nil { // 跑两遍
		result.Error = err.Error()
		return result
	}

	var maxDup int64
	tx.Raw(`SELECT COALESCE(MAX(c), 0) FROM (
	            SELECT COUNT(*) c FROM obligations WHERE document_id = ? GROUP BY obligation_hash
	        ) d`, docID).Scan(&maxDup)
	result.Steps = append(result.Steps, map[string]interface{}{
		"apply_extraction_idempotent": maxDup == 1, "max_duplicates": maxDup,
	})
	if maxDup != 1 {
		result.Error = "obligation upsert produced duplicates"
		return result
	}

	// 3) 证据去重（note 不在唯一键里）：同 tuple 换备注再插，应该还是 1 行
	withNote := payload
	withNote.Obligations[0].Evidence = []types.EvidencePayload{{PageFrom: 7, PageTo: 7, Note: "different note"}}
	if err := ApplyExtraction(tx, docID, withNote, false); err != nil {
		result.Error = err.Error()
		return result
	}
	var evRows int64
	tx.Raw(`SELECT COUNT(*) FROM obligation_evidence_links e
	        JOIN obligations o ON o.obligation_id = e.obligation_id
	        WHERE o.document_id = ? AND e.page_from = 7 AND e.page_to = 7`, docID).Scan(&evRows)
	result.Steps = append(result.Steps, map[string]interface{}{
		"evidence_unique": evRows == 1, "rows": evRows,
	})
	if evRows != 1 {
		result.Error = "evidence link dedup failed"
		return result
	}

	// 4) 到期窗口查询能看到测试义务
	repo := &DocumentRepo{db: tx}
	dueRows, err := repo.ObligationsDueSoon(ctx, time.Now(), vars.DueSoonDays)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	found := false
	for _, ob := range dueRows {
		if ob.DocID == docID {
			found = true
			break
		}
	}
	result.Steps = append(result.Steps, map[string]interface{}{
		"obligations_due_soon_ok": found,
	})
	if !found {
		result.Error = "test obligation missing from due-soon window"
		return result
	}

	result.OK = true
	return result
}
