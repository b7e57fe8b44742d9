package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"contract-extract/logic/prompt"
	"contract-extract/logic/schema"
)

// scriptedCompleter 按脚本依次返回回复，记录收到的 prompt
type scriptedCompleter struct {
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedCompleter) Complete(ctx context.Context, p string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, p)
	if i >= len(s.replies) {
		return "", fmt.Errorf("unexpected call %d", i+1)
	}
	if s.errs != nil && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return s.replies[i], nil
}

func testBundle(t *testing.T) *prompt.Bundle {
	t.Helper()
	sc := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"parties": map[string]interface{}{"type": "array"},
		},
		"required": []interface{}{"parties"},
	}
	b, err := prompt.Build(sc, &schema.Meta{Slug: "nda", SchemaSHA256: "x"}, "", "doc body")
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFirstJSONBlob(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain object",
			in:   `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "leading prose",
			in:   `Sure, here is the result: {"a": 1} hope that helps`,
			want: `{"a": 1}`,
		},
		{
			name: "brace inside string literal",
			in:   `Response: {"note": "a \"quoted\" brace } here", "x":1}`,
			want: `{"note": "a \"quoted\" brace } here", "x":1}`,
		},
		{
			name: "nested objects",
			in:   `{"a": {"b": {"c": 1}}} trailing {"d": 2}`,
			want: `{"a": {"b": {"c": 1}}}`,
		},
		{
			name: "markdown fences",
			in:   "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "unbalanced",
			in:   `{"a": 1`,
			want: "",
		},
		{
			name: "no json at all",
			in:   "I cannot extract anything from this document.",
			want: "",
		},
	}
	for _, c := range cases {
		if got := FirstJSONBlob(c.in); got != c.want {
			t.Errorf("%s: FirstJSONBlob(%q) = %q, want %q", c.name, c.in, got, c.want)
		}
	}
}

func TestExtract_FirstAttemptSucceeds(t *testing.T) {
	completer := &scriptedCompleter{
		replies: []string{`{"parties": [{"name": "Acme Corp"}]}`},
	}

	obj, err := Extract(context.Background(), completer, testBundle(t), 3)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(obj.Slice("parties")) != 1 {
		t.Errorf("Expected 1 party, got %v", obj["parties"])
	}
	if len(completer.prompts) != 1 {
		t.Errorf("Expected exactly 1 model call, got %d", len(completer.prompts))
	}
}

func TestExtract_RepairLoopRecovers(t *testing.T) {
	completer := &scriptedCompleter{
		replies: []string{
			"I cannot produce JSON right now.",
			`{"parties": "not an array"}`,
			`{"parties": []}`,
		},
	}

	obj, err := Extract(context.Background(), completer, testBundle(t), 3)
	if err != nil {
		t.Fatalf("Expected recovery on third attempt, got %v", err)
	}
	if obj == nil {
		t.Fatal("Expected extracted object")
	}
	if len(completer.prompts) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(completer.prompts))
	}

	// 第一次用原始 prompt，不带修复段
	if strings.Contains(completer.prompts[0], "# REPAIR CONTEXT") {
		t.Error("First attempt must use the original prompt")
	}

	// 第二次的修复 prompt 要嵌入上一轮回复和拒绝原因
	p2 := completer.prompts[1]
	if !strings.Contains(p2, "# REPAIR CONTEXT") {
		t.Fatal("Second attempt missing repair section")
	}
	if !strings.Contains(p2, "I cannot produce JSON right now.") {
		t.Error("Repair prompt must embed the prior raw reply")
	}
	if !strings.Contains(p2, "no JSON detected") {
		t.Errorf("Repair prompt must embed the rejection reason, got: %s", p2[strings.Index(p2, "# REPAIR CONTEXT"):])
	}

	// 第三次的修复 prompt 带 schema 校验错误路径
	p3 := completer.prompts[2]
	if !strings.Contains(p3, "schema validation failed") {
		t.Fatal("Third attempt should carry the schema validation error")
	}
	if !strings.Contains(p3, "$.parties") {
		t.Errorf("Expected JSONPath-style location in error, prompt tail: %s", p3[strings.Index(p3, "# REPAIR CONTEXT"):])
	}
}

func TestExtract_ExhaustedAfterMaxTries(t *testing.T) {
	completer := &scriptedCompleter{
		replies: []string{"garbage", "garbage", "garbage"},
	}

	obj, err := Extract(context.Background(), completer, testBundle(t), 3)
	if obj != nil {
		t.Fatal("Expected nil object on exhaustion, never an empty fallback")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", exhausted.Attempts)
	}
	if !strings.Contains(exhausted.LastErr, "no JSON detected") {
		t.Errorf("Expected last failure reason preserved, got %q", exhausted.LastErr)
	}
	if len(completer.prompts) != 3 {
		t.Errorf("Expected exactly 3 model calls, got %d", len(completer.prompts))
	}
}

func TestExtract_CompletionErrorConsumesAttempt(t *testing.T) {
	timeout := errors.New("context deadline exceeded")
	completer := &scriptedCompleter{
		replies: []string{"", "", `{"parties": []}`},
		errs:    []error{timeout, timeout, nil},
	}

	obj, err := Extract(context.Background(), completer, testBundle(t), 3)
	if err != nil {
		t.Fatalf("Expected recovery after two timeouts, got %v", err)
	}
	if obj == nil {
		t.Fatal("Expected extracted object")
	}
	if len(completer.prompts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(completer.prompts))
	}
	// 超时后的重试也要带修复段
	if !strings.Contains(completer.prompts[1], "completion failed") {
		t.Error("Retry after timeout should carry the failure reason")
	}
}

func TestExtract_BadSchemaIsNotRetried(t *testing.T) {
	sc := map[string]interface{}{
		"type": []interface{}{12345}, // 非法 schema
	}
	b, err := prompt.Build(sc, &schema.Meta{Slug: "broken"}, "", "body")
	if err != nil {
		t.Fatal(err)
	}

	completer := &scriptedCompleter{replies: []string{`{}`}}
	_, err = Extract(context.Background(), completer, b, 3)
	if err == nil {
		t.Fatal("Expected error for uncompilable schema")
	}
	if len(completer.prompts) != 0 {
		t.Errorf("Config errors must not consume model calls, got %d", len(completer.prompts))
	}
}
