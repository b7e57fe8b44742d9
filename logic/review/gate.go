package review

import (
	"fmt"

	"contract-extract/types"
	"contract-extract/vars"
)

// Decision 审核门的判定结果；Needed=false 时其余字段无意义
type Decision struct {
	Needed      bool
	TaskType    string
	Reason      string
	Priority    float64
	Criticality float64
	Confidence  float64
	Impact      float64
}

// Evaluate 持久化之后的人工审核判定
// 三个触发条件任一命中即需要审核：置信度低于阈值、没抽到参与方、没抽到金额条款
func Evaluate(confidence float64, extracted types.ExtractedObject) *Decision {
	needed := false
	reason := ""

	switch {
	case confidence < vars.ReviewConfidenceThreshold:
		needed = true
		reason = fmt.Sprintf("Low confidence score: %g", confidence)
	case !extracted.HasItems("parties"):
		needed = true
		reason = "No parties identified"
	case !extracted.HasItems("financial_terms"):
		needed = true
		reason = "No financial terms found"
	}

	if !needed {
		return &Decision{Needed: false}
	}

	return &Decision{
		Needed:      true,
		TaskType:    "review_low_confidence",
		Reason:      reason,
		Priority:    Priority(vars.ReviewCriticality, confidence, vars.ReviewImpact),
		Criticality: vars.ReviewCriticality,
		Confidence:  confidence,
		Impact:      vars.ReviewImpact,
	}
}

// Priority = criticality * (1 - confidence) * impact，三个因子都在 [0,1]
// 结果 clamp 到 [0,1]；置信度越低优先级越高，confidence=1 时恒为 0
func Priority(criticality, confidence, impact float64) float64 {
	p := criticality * (1 - confidence) * impact
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
