package review

import (
	"math"
	"strings"
	"testing"

	"contract-extract/types"
)

func fullExtraction() types.ExtractedObject {
	return types.ExtractedObject{
		"parties": []interface{}{
			map[string]interface{}{"name": "Acme Corp", "role": "buyer"},
			map[string]interface{}{"name": "Jane Smith", "role": "seller"},
		},
		"financial_terms": []interface{}{
			map[string]interface{}{"term_type": "purchase_price", "amount": 450000.0},
		},
	}
}

func TestEvaluate_HighConfidenceCompleteExtraction(t *testing.T) {
	d := Evaluate(0.92, fullExtraction())
	if d.Needed {
		t.Errorf("Expected no review for confident complete extraction, got reason %q", d.Reason)
	}
}

func TestEvaluate_LowConfidence(t *testing.T) {
	d := Evaluate(0.65, fullExtraction())
	if !d.Needed {
		t.Fatal("Expected review task for confidence below threshold")
	}
	if !strings.Contains(d.Reason, "Low confidence") {
		t.Errorf("Unexpected reason %q", d.Reason)
	}
	if d.TaskType != "review_low_confidence" {
		t.Errorf("Unexpected task type %q", d.TaskType)
	}
	want := 0.8 * (1 - 0.65) * 1.0
	if math.Abs(d.Priority-want) > 1e-9 {
		t.Errorf("Priority = %v, want %v", d.Priority, want)
	}
}

func TestEvaluate_MissingParties(t *testing.T) {
	obj := fullExtraction()
	obj["parties"] = []interface{}{}
	d := Evaluate(0.95, obj)
	if !d.Needed {
		t.Fatal("Expected review task when no parties extracted")
	}
	if d.Reason != "No parties identified" {
		t.Errorf("Unexpected reason %q", d.Reason)
	}
}

func TestEvaluate_MissingFinancialTerms(t *testing.T) {
	obj := fullExtraction()
	delete(obj, "financial_terms")
	d := Evaluate(0.95, obj)
	if !d.Needed {
		t.Fatal("Expected review task when no financial terms extracted")
	}
	if d.Reason != "No financial terms found" {
		t.Errorf("Unexpected reason %q", d.Reason)
	}
}

func TestPriority_Formula(t *testing.T) {
	// 置信度越低优先级越高
	if Priority(0.8, 0.2, 1.0) <= Priority(0.8, 0.7, 1.0) {
		t.Error("Priority must decrease monotonically with confidence")
	}

	// confidence = 1 时恒为 0
	if p := Priority(1.0, 1.0, 1.0); p != 0 {
		t.Errorf("Priority(_, 1, _) = %v, want 0", p)
	}

	// clamp 到 [0,1]
	if p := Priority(2.0, 0.0, 2.0); p != 1 {
		t.Errorf("Priority above 1 must clamp, got %v", p)
	}
	if p := Priority(0.8, 1.5, 1.0); p != 0 {
		t.Errorf("Negative priority must clamp to 0, got %v", p)
	}
}
