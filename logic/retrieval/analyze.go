package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"contract-extract/types"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// AnalyzeQuery 意图识别实现
func AnalyzeQuery(ctx context.Context, query string, chatModel model.ToolCallingChatModel) (*types.SearchIntent, error) {
	promptTmpl := `
You are a contract search assistant. Current date: {{.CurrentDate}}.
Analyze the user query and emit JSON filter conditions.

Rules:
1. **intent**:
   - "structured_only": counting or listing documents, no clause content needed
     * examples: "how many agreements name Acme Corp?", "list all PSAs from 2024", "contracts with deposits over $50,000", "which documents still need review"
   - "hybrid": the user wants specific clause content
     * examples: "what does the Jones PSA say about inspection contingencies", "how is earnest money usually handled", "termination provisions in NDAs"
     * note: even with no structured filters ("how are deposits refunded"), it is still hybrid, just with empty filters

2. **filters** (object, not array):
   - **"any_party"**: extract person/company names as an **array**
     * split entities joined by "and"/"with"/"between" into separate elements
     * "agreements between Acme Corp and Jane Smith" -> ["Acme Corp", "Jane Smith"]
     * a single entity is still an array: ["Acme Corp"]
   - "doc_type": document type slug, e.g. "purchase-sale-agreement-psa", "letter-of-intent", "non-disclosure-agreement"
   - "reviewed": "reviewed" or "pending" when the user asks about review state
   - "date_range": {"start": "YYYY-MM-DD", "end": "YYYY-MM-DD"}, fill only the side given
   - "amount_range": {"min": number, "max": number}, e.g. "over 30000" -> {"min": 30000}
   - "min_confidence": number in [0,1] when the user asks for high-confidence extractions
   - "obligations_due": true when the user asks about upcoming deadlines or obligations coming due
   - with no filters return an empty object {}, never an empty array []

3. **semantic_query**: strip the extracted metadata and rephrase the core question
   for vector search. Drop names, dates and amounts, keep the clause topic.
   * "what does the 2023 Acme PSA say about refunds" -> "purchase agreement refund provisions"

4. **keywords**: keyword array for ES BM25 search.

Output JSON format examples:
{
  "intent": "structured_only",
  "filters": {
    "amount_range": {"min": 30000}
  },
  "semantic_query": "",
  "keywords": ["amount", "over", "30000"]
}

{
  "intent": "hybrid",
  "filters": {
    "any_party": ["Acme Corp", "Jane Smith"],
    "date_range": {"start": "2023-01-01", "end": "2023-12-31"}
  },
  "semantic_query": "inspection contingency provisions",
  "keywords": ["inspection", "contingency"]
}

{
  "intent": "hybrid",
  "filters": {},
  "semantic_query": "earnest money deposit refund conditions",
  "keywords": ["earnest", "money", "deposit", "refund"]
}

Output JSON only. No markdown.
`
	// 渲染 Prompt
	t, _ := template.New("p").Parse(promptTmpl)
	var buf bytes.Buffer
	err := t.Execute(&buf, map[string]string{"CurrentDate": time.Now().Format("2006-01-02")})
	if err != nil {
		return nil, err
	}

	resp, err := chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(buf.String()),
		schema.UserMessage(query),
	})
	if err != nil {
		return nil, err
	}

	raw := resp.Content
	fmt.Printf(">>> [LLM Raw Response]: %s\n", raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end != -1 && end > start {
		raw = raw[start : end+1]
	} else {
		fmt.Println(">>> [Error] 无法在响应中找到 JSON 对象")
	}

	// 清洗 filters: [] -> filters: {}
	raw = strings.Replace(raw, `"filters": []`, `"filters": {}`, -1)

	var intent types.SearchIntent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		fmt.Printf(">>> [Error] JSON 解析失败: %v\n", err)
		// 兜底：解析失败则降级为 hybrid 检索
		return &types.SearchIntent{Intent: "hybrid", SemanticQuery: query, Keywords: []string{}}, nil
	}
	if intent.Intent == "" {
		intent.Intent = "hybrid"
	}

	return &intent, nil
}
