package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"contract-extract/types"
	"contract-extract/vars"
)

// Persister 带 provenance 的持久化
// 一次 Persist 就是一个事务：任何一步失败全部回滚，不允许出现
// "文档行写了但义务没写" 这种半成品状态
type Persister struct {
	db *gorm.DB
}

func NewPersister(db *gorm.DB) *Persister {
	return &Persister{db: db}
}

// PersistWithProvenance 校验通过的抽取对象落库
// 文档行按 doc_id upsert；extractions 按语义组逐条写入；obligations 走
// ApplyExtraction 的哈希幂等 upsert。重复处理同一份文档不会产生重复数据
func (p *Persister) PersistWithProvenance(ctx context.Context, docID, fileName, docType, content string, extracted types.ExtractedObject, confidence float64) error {
	docSHA := ContentSHA256(content)

	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("serialize extracted data: %w", err)
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// 1. 文档行 upsert：冲突时原地更新抽取结果和置信度，不插重复行
		doc := &Document{
			DocID:           docID,
			FileName:        fileName,
			DocType:         docType,
			SHA256:          docSHA,
			Processed:       true,
			ConfidenceScore: confidence,
			ExtractedData:   string(extractedJSON),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"file_name", "doc_type", "sha256", "processed",
				"confidence_score", "extracted_data", "updated_at",
			}),
		}).Create(doc).Error; err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}

		// 2. 逐字段 provenance
		if err := storeExtractions(tx, docID, docSHA, extracted, confidence); err != nil {
			return err
		}

		// 3. 参与方实体
		if err := storeParties(tx, docID, extracted); err != nil {
			return err
		}

		// 4. 金额条款实体
		if err := storeFinancialTerms(tx, docID, extracted); err != nil {
			return err
		}

		// 5. 义务 + 证据，哈希幂等
		payload := BuildPayload(extracted)
		return ApplyExtraction(tx, docID, payload, true)
	})
	if err != nil {
		return fmt.Errorf("persist transaction failed for %s: %w", docID, err)
	}

	fmt.Printf(">>> [Persist] 文档 %s 持久化完成 (sha=%s..., confidence=%.2f)\n", docID, docSHA[:8], confidence)
	return nil
}

// storeExtractions 每个语义组逐条写 provenance 行
// 数组组（parties / financial_terms / dates）一项一行，对象组整组一行
func storeExtractions(tx *gorm.DB, docID, docSHA string, extracted types.ExtractedObject, confidence float64) error {
	now := time.Now()

	write := func(fieldID, fieldName string, value interface{}) error {
		serialized := serializeValue(value)
		meta, _ := json.Marshal(map[string]interface{}{
			"extraction_method": vars.ExtractorModel,
		})
		rec := &Extraction{
			ID:         uuid.New().String(),
			FieldID:    fieldID,
			FieldName:  fieldName,
			Value:      serialized,
			DocID:      docID,
			DocSHA256:  docSHA,
			DocVersion: 1,
			Page:       1,
			Snippet:    snippet(serialized),
			Extractor:  vars.ExtractorModel,
			Confidence: confidence,
			Metadata:   string(meta),
			Timestamp:  now,
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("insert extraction %s: %w", fieldID, err)
		}
		return nil
	}

	arrayGroups := map[string]string{
		"parties":         "party",
		"financial_terms": "financial_term",
		"dates":           "date",
	}
	for group, fieldName := range arrayGroups {
		for idx, item := range extracted.Slice(group) {
			if err := write(fmt.Sprintf("%s_%d", fieldName, idx), fieldName, item); err != nil {
				return err
			}
		}
	}

	for _, group := range []string{"property_details", "document_type"} {
		if obj := extracted.Object(group); len(obj) > 0 {
			if err := write(group, group, obj); err != nil {
				return err
			}
		}
	}

	return nil
}

func storeParties(tx *gorm.DB, docID string, extracted types.ExtractedObject) error {
	for _, item := range extracted.Slice("parties") {
		name, role, entityType := partyFields(item)
		if name == "" {
			continue
		}
		party := &Party{
			PartyID:    uuid.New().String(),
			DocID:      docID,
			PartyName:  name,
			PartyRole:  role,
			EntityType: entityType,
			CreatedAt:  time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(party).Error; err != nil {
			return fmt.Errorf("insert party %s: %w", name, err)
		}
	}
	return nil
}

func storeFinancialTerms(tx *gorm.DB, docID string, extracted types.ExtractedObject) error {
	for _, item := range extracted.Slice("financial_terms") {
		amount, description, termType := financialFields(item)
		if amount == 0 {
			continue
		}
		term := &FinancialTerm{
			TermID:      uuid.New().String(),
			DocID:       docID,
			Amount:      amount,
			Description: description,
			PaymentType: termType,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(term).Error; err != nil {
			return fmt.Errorf("insert financial term: %w", err)
		}
	}
	return nil
}

// ApplyExtraction 义务落库的幂等核心（对应库里的 apply_extraction 存储过程语义）
// 同一份文档应用同一个 payload 两次，obligations 表里必须还是一行。
// markSuperseded=true 时，这次 payload 没出现的旧义务标记为 superseded（终态的不动）
func ApplyExtraction(tx *gorm.DB, docID string, payload types.ExtractionPayload, markSuperseded bool) error {
	seen := make([]string, 0, len(payload.Obligations))

	for _, ob := range payload.Obligations {
		if ob.ObligationType == "" {
			continue
		}
		hash := ObligationHashOf(ob.ObligationType, ob.TriggerEvent, ob.ResponsibleParty)
		seen = append(seen, hash)

		status := ob.Status
		if status == "" {
			status = types.ObligationOpen
		}

		var dueDate *time.Time
		if ob.DueDate != "" {
			if t, err := time.Parse("2006-01-02", ob.DueDate); err == nil {
				dueDate = &t
			}
		}

		now := time.Now()
		row := &Obligation{
			ObligationID:     uuid.New().String(),
			DocID:            docID,
			ObligationHash:   hash,
			ObligationType:   ob.ObligationType,
			Status:           status,
			TriggerEvent:     ob.TriggerEvent,
			ResponsibleParty: ob.ResponsibleParty,
			DueDate:          dueDate,
			Description:      ob.Description,
			Superseded:       false,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		// 身份冲突 → 原地更新可变字段，绝不插第二行
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}, {Name: "obligation_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "due_date", "description", "superseded", "updated_at",
			}),
		}).Create(row).Error; err != nil {
			return fmt.Errorf("upsert obligation %s: %w", hash[:8], err)
		}

		// upsert 后重新查一次拿到真实的 obligation_id（冲突时 row.ObligationID 不是库里的）
		var stored Obligation
		if err := tx.Where("document_id = ? AND obligation_hash = ?", docID, hash).
			First(&stored).Error; err != nil {
			return fmt.Errorf("load obligation %s: %w", hash[:8], err)
		}

		for _, ev := range ob.Evidence {
			evidenceDocID := ev.DocumentID
			if evidenceDocID == "" {
				evidenceDocID = docID
			}
			link := &EvidenceLink{
				ObligationID:       stored.ObligationID,
				EvidenceDocumentID: evidenceDocID,
				PageFrom:           ev.PageFrom,
				PageTo:             ev.PageTo,
				Note:               ev.Note,
				CreatedAt:          time.Now(),
			}
			// note 不参与唯一性：同 tuple 换备注也是 no-op
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "obligation_id"}, {Name: "evidence_document_id"}, {Name: "page_from"}, {Name: "page_to"}},
				DoNothing: true,
			}).Create(link).Error; err != nil {
				return fmt.Errorf("insert evidence link: %w", err)
			}
		}
	}

	if markSuperseded {
		q := tx.Model(&Obligation{}).
			Where("document_id = ? AND superseded = ?", docID, false).
			Where("status NOT IN ?", []string{types.ObligationCompleted, types.ObligationWaived, types.ObligationClosed})
		if len(seen) > 0 {
			q = q.Where("obligation_hash NOT IN ?", seen)
		}
		if err := q.Updates(map[string]interface{}{"superseded": true, "updated_at": time.Now()}).Error; err != nil {
			return fmt.Errorf("mark superseded: %w", err)
		}
	}

	return nil
}

// BuildPayload 把模型输出转成落库 payload
// 模型没给 obligations 时，从金额条款里推断付款义务兜底
func BuildPayload(extracted types.ExtractedObject) types.ExtractionPayload {
	payload := types.ExtractionPayload{ExtractedFields: extracted}

	if raw := extracted.Slice("obligations"); len(raw) > 0 {
		// map → struct 走一遍 JSON，字段名和 payload 定义对齐
		b, err := json.Marshal(raw)
		if err == nil {
			_ = json.Unmarshal(b, &payload.Obligations)
		}
		return payload
	}

	for _, item := range extracted.Slice("financial_terms") {
		amount, description, _ := financialFields(item)
		if amount == 0 {
			continue
		}
		if description == "" {
			description = fmt.Sprintf("Payment of $%.2f", amount)
		}
		payload.Obligations = append(payload.Obligations, types.ObligationPayload{
			ObligationType:   "make_payment",
			Status:           types.ObligationOpen,
			ResponsibleParty: "Undetermined",
			Description:      description,
		})
	}
	return payload
}

// --- 字段清洗 ---

func partyFields(item interface{}) (name, role, entityType string) {
	role = "party"
	entityType = "Unknown"
	switch v := item.(type) {
	case map[string]interface{}:
		if s, ok := v["name"].(string); ok && s != "" {
			name = s
		} else if s, ok := v["full_legal_name"].(string); ok {
			name = s
		}
		if s, ok := v["role"].(string); ok && s != "" {
			role = s
		}
		if s, ok := v["entity_type"].(string); ok && s != "" {
			entityType = s
		}
	case string:
		name = v
	}
	return strings.TrimSpace(name), role, entityType
}

func financialFields(item interface{}) (amount float64, description, termType string) {
	termType = "payment"
	switch v := item.(type) {
	case map[string]interface{}:
		amount = parseAmount(v["amount"])
		if s, ok := v["description"].(string); ok {
			description = s
		}
		if s, ok := v["type"].(string); ok && s != "" {
			termType = s
		}
	default:
		// "$2,500,000" 这种裸字符串
		amount = parseAmount(item)
		description = fmt.Sprintf("%v", item)
	}
	return amount, description, termType
}

// parseAmount 金额清洗：数字直接用，字符串去掉 $ 和千分位逗号再解析
func parseAmount(v interface{}) float64 {
	switch a := v.(type) {
	case float64:
		return a
	case json.Number:
		f, _ := a.Float64()
		return f
	case string:
		clean := strings.ReplaceAll(strings.ReplaceAll(strings.TrimSpace(a), "$", ""), ",", "")
		if clean == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(clean, 64); err == nil {
			return f
		}
	}
	return 0
}

func serializeValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// snippet 审计展示用的截断片段
func snippet(s string) string {
	r := []rune(s)
	if len(r) <= vars.SnippetMaxLen {
		return s
	}
	return string(r[:vars.SnippetMaxLen])
}
