package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"contract-extract/types"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func sampleExtraction() types.ExtractedObject {
	return types.ExtractedObject{
		"parties": []interface{}{
			map[string]interface{}{"name": "Acme Corp", "role": "buyer", "entity_type": "LLC"},
			map[string]interface{}{"name": "Jane Smith", "role": "seller"},
		},
		"financial_terms": []interface{}{
			map[string]interface{}{"amount": 450000.0, "description": "Purchase price", "type": "purchase_price"},
		},
		"obligations": []interface{}{
			map[string]interface{}{
				"obligation_type":   "make_payment",
				"status":            "open",
				"trigger_event":     "Close of Escrow",
				"responsible_party": "Buyer",
				"due_date":          "2026-10-15",
				"description":       "Pay transfer tax at recording",
				"evidence": []interface{}{
					map[string]interface{}{"page_from": 7, "page_to": 7, "note": "§7.3"},
				},
			},
		},
		"confidence_score": 0.9,
	}
}

func TestPersist_ReprocessingIsIdempotent(t *testing.T) {
	db := testDB(t)
	p := NewPersister(db)
	ctx := context.Background()

	docID := uuid.New().String()
	content := "This Purchase and Sale Agreement is entered into..."

	for i := 0; i < 2; i++ {
		if err := p.PersistWithProvenance(ctx, docID, "psa.pdf", "purchase-sale-agreement-psa", content, sampleExtraction(), 0.9); err != nil {
			t.Fatalf("Persist run %d failed: %v", i+1, err)
		}
	}

	var docCount int64
	db.Model(&Document{}).Count(&docCount)
	if docCount != 1 {
		t.Errorf("Expected 1 document row after reprocessing, got %d", docCount)
	}

	var obCount int64
	db.Model(&Obligation{}).Where("document_id = ?", docID).Count(&obCount)
	if obCount != 1 {
		t.Errorf("Expected 1 obligation row after reprocessing, got %d", obCount)
	}

	var evCount int64
	db.Model(&EvidenceLink{}).Count(&evCount)
	if evCount != 1 {
		t.Errorf("Expected 1 evidence link after reprocessing, got %d", evCount)
	}

	// 参与方唯一键同样防重
	var partyCount int64
	db.Model(&Party{}).Where("doc_id = ?", docID).Count(&partyCount)
	if partyCount != 2 {
		t.Errorf("Expected 2 party rows, got %d", partyCount)
	}
}

func TestPersist_DocumentUpdatedInPlace(t *testing.T) {
	db := testDB(t)
	p := NewPersister(db)
	ctx := context.Background()

	docID := uuid.New().String()
	if err := p.PersistWithProvenance(ctx, docID, "a.pdf", "lease", "content v1", sampleExtraction(), 0.6); err != nil {
		t.Fatal(err)
	}
	if err := p.PersistWithProvenance(ctx, docID, "a.pdf", "lease", "content v1", sampleExtraction(), 0.95); err != nil {
		t.Fatal(err)
	}

	var doc Document
	if err := db.Where("doc_id = ?", docID).First(&doc).Error; err != nil {
		t.Fatal(err)
	}
	if doc.ConfidenceScore != 0.95 {
		t.Errorf("Expected confidence updated in place to 0.95, got %v", doc.ConfidenceScore)
	}
	if !doc.Processed {
		t.Error("Expected document marked processed")
	}
}

func TestApplyExtraction_EvidenceNoteNotPartOfIdentity(t *testing.T) {
	db := testDB(t)
	docID := uuid.New().String()

	payload := types.ExtractionPayload{
		Obligations: []types.ObligationPayload{{
			ObligationType:   "deliver_deed",
			TriggerEvent:     "Closing",
			ResponsibleParty: "Seller",
			Evidence:         []types.EvidencePayload{{PageFrom: 3, PageTo: 4, Note: "§2.1"}},
		}},
	}
	if err := ApplyExtraction(db, docID, payload, false); err != nil {
		t.Fatal(err)
	}

	// 同 tuple，换个备注
	payload.Obligations[0].Evidence = []types.EvidencePayload{{PageFrom: 3, PageTo: 4, Note: "completely different note"}}
	if err := ApplyExtraction(db, docID, payload, false); err != nil {
		t.Fatal(err)
	}

	var links []EvidenceLink
	if err := db.Find(&links).Error; err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 {
		t.Fatalf("Expected 1 evidence link, got %d", len(links))
	}
	if links[0].Note != "§2.1" {
		t.Errorf("Expected original note preserved, got %q", links[0].Note)
	}

	// 页码不同才是新证据
	payload.Obligations[0].Evidence = []types.EvidencePayload{{PageFrom: 5, PageTo: 5, Note: "§4"}}
	if err := ApplyExtraction(db, docID, payload, false); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&EvidenceLink{}).Count(&count)
	if count != 2 {
		t.Errorf("Expected 2 evidence links after new page range, got %d", count)
	}
}

func TestApplyExtraction_UpdatesMutableFields(t *testing.T) {
	db := testDB(t)
	docID := uuid.New().String()

	payload := types.ExtractionPayload{
		Obligations: []types.ObligationPayload{{
			ObligationType:   "make_payment",
			TriggerEvent:     "Close of Escrow",
			ResponsibleParty: "Buyer",
			DueDate:          "2026-09-01",
			Description:      "old description",
		}},
	}
	if err := ApplyExtraction(db, docID, payload, true); err != nil {
		t.Fatal(err)
	}

	payload.Obligations[0].DueDate = "2026-12-01"
	payload.Obligations[0].Description = "new description"
	payload.Obligations[0].Status = types.ObligationOverdue
	if err := ApplyExtraction(db, docID, payload, true); err != nil {
		t.Fatal(err)
	}

	var rows []Obligation
	db.Where("document_id = ?", docID).Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 obligation, got %d", len(rows))
	}
	if rows[0].Description != "new description" {
		t.Errorf("Expected description updated, got %q", rows[0].Description)
	}
	if rows[0].Status != types.ObligationOverdue {
		t.Errorf("Expected status updated, got %q", rows[0].Status)
	}
	if rows[0].DueDate == nil || rows[0].DueDate.Format("2006-01-02") != "2026-12-01" {
		t.Errorf("Expected due date updated, got %v", rows[0].DueDate)
	}
}

func TestApplyExtraction_SupersedeSkipsTerminal(t *testing.T) {
	db := testDB(t)
	docID := uuid.New().String()

	first := types.ExtractionPayload{
		Obligations: []types.ObligationPayload{
			{ObligationType: "make_payment", TriggerEvent: "Closing", ResponsibleParty: "Buyer"},
			{ObligationType: "deliver_deed", TriggerEvent: "Closing", ResponsibleParty: "Seller"},
			{ObligationType: "provide_disclosure", TriggerEvent: "Execution", ResponsibleParty: "Seller", Status: types.ObligationCompleted},
		},
	}
	if err := ApplyExtraction(db, docID, first, true); err != nil {
		t.Fatal(err)
	}

	// 重新抽取只剩 make_payment
	second := types.ExtractionPayload{
		Obligations: []types.ObligationPayload{
			{ObligationType: "make_payment", TriggerEvent: "Closing", ResponsibleParty: "Buyer"},
		},
	}
	if err := ApplyExtraction(db, docID, second, true); err != nil {
		t.Fatal(err)
	}

	get := func(obType string) Obligation {
		var ob Obligation
		if err := db.Where("document_id = ? AND obligation_type = ?", docID, obType).First(&ob).Error; err != nil {
			t.Fatalf("load %s: %v", obType, err)
		}
		return ob
	}

	if get("make_payment").Superseded {
		t.Error("Obligation present in latest payload must not be superseded")
	}
	if !get("deliver_deed").Superseded {
		t.Error("Open obligation absent from latest payload must be superseded")
	}
	if get("provide_disclosure").Superseded {
		t.Error("Terminal obligation must never be superseded")
	}
}

func TestBuildPayload_InfersPaymentFromFinancialTerms(t *testing.T) {
	extracted := types.ExtractedObject{
		"financial_terms": []interface{}{
			map[string]interface{}{"amount": "$2,500,000", "description": "Purchase price"},
			map[string]interface{}{"amount": 0.0, "description": "placeholder"},
		},
	}

	payload := BuildPayload(extracted)
	if len(payload.Obligations) != 1 {
		t.Fatalf("Expected 1 inferred obligation (zero amounts skipped), got %d", len(payload.Obligations))
	}
	ob := payload.Obligations[0]
	if ob.ObligationType != "make_payment" {
		t.Errorf("Expected make_payment, got %q", ob.ObligationType)
	}
	if ob.ResponsibleParty != "Undetermined" {
		t.Errorf("Expected Undetermined responsible party, got %q", ob.ResponsibleParty)
	}
	if ob.Status != types.ObligationOpen {
		t.Errorf("Expected open status, got %q", ob.Status)
	}
}

func TestBuildPayload_PrefersExplicitObligations(t *testing.T) {
	extracted := sampleExtraction()
	payload := BuildPayload(extracted)
	if len(payload.Obligations) != 1 {
		t.Fatalf("Expected explicit obligation carried over, got %d", len(payload.Obligations))
	}
	if payload.Obligations[0].TriggerEvent != "Close of Escrow" {
		t.Errorf("Expected trigger event preserved, got %q", payload.Obligations[0].TriggerEvent)
	}
	if len(payload.Obligations[0].Evidence) != 1 {
		t.Errorf("Expected evidence carried over, got %d", len(payload.Obligations[0].Evidence))
	}
}

func TestObligationHashOf(t *testing.T) {
	a := ObligationHashOf("Make_Payment", " Close of Escrow ", "BUYER")
	b := ObligationHashOf("make_payment", "close of escrow", "buyer")
	if a != b {
		t.Error("Hash must ignore case and surrounding whitespace")
	}
	c := ObligationHashOf("make_payment", "recording", "buyer")
	if a == c {
		t.Error("Different trigger events must produce different hashes")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   interface{}
		want float64
	}{
		{450000.0, 450000},
		{"$2,500,000", 2500000},
		{"1,000.50", 1000.50},
		{" $75 ", 75},
		{"", 0},
		{"TBD", 0},
		{nil, 0},
	}
	for _, c := range cases {
		if got := parseAmount(c.in); got != c.want {
			t.Errorf("parseAmount(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestObligationsDueSoonAndOverdue(t *testing.T) {
	db := testDB(t)
	repo := NewDocumentRepo(db)
	ctx := context.Background()
	docID := uuid.New().String()

	now := time.Now()
	mk := func(obType string, due time.Time, status string) {
		ob := &Obligation{
			ObligationID:   uuid.New().String(),
			DocID:          docID,
			ObligationHash: ObligationHashOf(obType, "t", "p"),
			ObligationType: obType,
			Status:         status,
			DueDate:        &due,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := db.Create(ob).Error; err != nil {
			t.Fatal(err)
		}
	}

	mk("due_in_30", now.AddDate(0, 0, 30), types.ObligationOpen)
	mk("due_in_90", now.AddDate(0, 0, 90), types.ObligationOpen)
	mk("already_done", now.AddDate(0, 0, 10), types.ObligationCompleted)
	mk("past_due", now.AddDate(0, 0, -5), types.ObligationOpen)

	rows, err := repo.ObligationsDueSoon(ctx, now, 60)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, r := range rows {
		got[r.ObligationType] = true
	}
	if !got["due_in_30"] || !got["past_due"] {
		t.Errorf("Expected due_in_30 and past_due in window, got %v", got)
	}
	if got["due_in_90"] {
		t.Error("Obligation outside the window must be excluded")
	}
	if got["already_done"] {
		t.Error("Completed obligations must be excluded")
	}

	affected, err := repo.MarkOverdueObligations(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 obligation marked overdue, got %d", affected)
	}
	var ob Obligation
	db.Where("obligation_type = ?", "past_due").First(&ob)
	if ob.Status != types.ObligationOverdue {
		t.Errorf("Expected past_due flipped to overdue, got %q", ob.Status)
	}
}

func TestSelfTest_PassesAndRollsBack(t *testing.T) {
	db := testDB(t)
	repo := NewDocumentRepo(db)

	result := repo.SelfTest(context.Background())
	if !result.OK {
		t.Fatalf("Self test failed: %s (steps: %v)", result.Error, result.Steps)
	}

	// 自检写入必须全部回滚
	var count int64
	db.Model(&Document{}).Where("file_name = ?", "SELFTEST_DOC").Count(&count)
	if count != 0 {
		t.Errorf("Expected self-test document rolled back, found %d rows", count)
	}
}
