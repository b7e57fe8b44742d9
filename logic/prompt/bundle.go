package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"contract-extract/logic/schema"
	"contract-extract/vars"
)

// Bundle 一次提取尝试序列共用的 prompt 包，构建后不再修改
// SchemaSHA256 用于复现和审计（同一个 bundle 的多次 repair 尝试都对着同一份 schema）
type Bundle struct {
	Prompt       string
	Schema       map[string]interface{}
	SchemaSHA256 string
	HasFewShot   bool
	Slug         string
}

// 常见缩写 → 标准 slug
var slugAliases = map[string]string{
	"psa":                     "purchase-sale-agreement-psa",
	"loi":                     "letter-of-intent-loi",
	"nda":                     "non-disclosure-agreement-nda",
	"purchase-sale-agreement": "purchase-sale-agreement-psa",
	"letter-of-intent":        "letter-of-intent-loi",
	"non-disclosure-agreement": "non-disclosure-agreement-nda",
}

var (
	parenRe  = regexp.MustCompile(`\([^)]*\)`)
	hyphenRe = regexp.MustCompile(`-+`)
)

// NormalizeSlug 把用户输入的类型标签归一化成 slug
func NormalizeSlug(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, " ", "-")
	label = strings.ReplaceAll(label, "_", "-")
	label = strings.TrimSpace(parenRe.ReplaceAllString(label, ""))

	if mapped, ok := slugAliases[label]; ok {
		return mapped
	}

	label = strings.Trim(hyphenRe.ReplaceAllString(label, "-"), "-")
	return label
}

// Build 组装完整 prompt：前导契约 → schema → few-shot → 任务说明 → 文档原文
// 这里不做截断，调用方负责控制 body 长度；也绝不在这里调模型
func Build(sc map[string]interface{}, meta *schema.Meta, fewShot, documentBody string) (*Bundle, error) {
	schemaJSON, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize schema: %w", err)
	}

	var parts []string
	parts = append(parts, vars.EXTRACTION_PRE_PROMPT)
	parts = append(parts, "\n# JSON SCHEMA")
	parts = append(parts, string(schemaJSON))

	if fewShot != "" {
		parts = append(parts, "\n# FEW-SHOT EXAMPLES")
		parts = append(parts, fewShot)
	}

	parts = append(parts, "\n# EXTRACTION TASK")
	parts = append(parts, "Extract data from the document below according to the schema above.")
	parts = append(parts, "Remember: Return ONLY the JSON object, no explanations.")
	parts = append(parts, "\n# DOCUMENT")
	parts = append(parts, documentBody)

	return &Bundle{
		Prompt:       strings.Join(parts, "\n"),
		Schema:       sc,
		SchemaSHA256: meta.SchemaSHA256,
		HasFewShot:   fewShot != "",
		Slug:         meta.Slug,
	}, nil
}
