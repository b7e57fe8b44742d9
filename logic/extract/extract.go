package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"contract-extract/logic/prompt"
	"contract-extract/types"
)

// Completer 补全服务边界：不可靠，可能超时、返回非 JSON、返回违反 schema 的 JSON
// 修复循环的存在就是为了这个边界
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ExhaustedError 重试耗尽后的终态失败
// 调用方必须当成该文档的硬失败处理，绝不能静默替换成空对象
type ExhaustedError struct {
	Attempts int
	LastErr  string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("extraction exhausted after %d attempts: %s", e.Attempts, e.LastErr)
}

// Extract 修复循环：补全 → 截取首个 JSON 对象 → schema 校验，失败则带着错误重试
// 每次重试的 prompt 里嵌入上一轮的原始回复和拒绝原因，重试次数有硬上限
func Extract(ctx context.Context, completer Completer, bundle *prompt.Bundle, maxTries int) (types.ExtractedObject, error) {
	if maxTries <= 0 {
		maxTries = 3
	}

	validator, err := compileSchema(bundle.Schema)
	if err != nil {
		// schema 本身编译不过是配置问题，不进重试
		return nil, fmt.Errorf("compile schema for %s: %w", bundle.Slug, err)
	}

	lastErr := ""
	reply := ""

	for attempt := 1; attempt <= maxTries; attempt++ {
		var p string
		if attempt == 1 {
			p = bundle.Prompt
		} else {
			p = repairPrompt(bundle.Prompt, reply, lastErr)
		}

		reply, err = completer.Complete(ctx, p)
		if err != nil {
			// 超时等同于一次解析失败，同样消耗重试额度
			lastErr = fmt.Sprintf("completion failed: %v", err)
			fmt.Printf(">>> [Extract] 第 %d 次尝试失败: %s\n", attempt, lastErr)
			continue
		}

		blob := FirstJSONBlob(reply)
		if blob == "" {
			lastErr = fmt.Sprintf("no JSON detected in model reply (len=%d)", len(reply))
			fmt.Printf(">>> [Extract] 第 %d 次尝试失败: %s\n", attempt, lastErr)
			continue
		}

		var obj types.ExtractedObject
		if err := json.Unmarshal([]byte(blob), &obj); err != nil {
			lastErr = fmt.Sprintf("json unmarshal failed: %v", err)
			fmt.Printf(">>> [Extract] 第 %d 次尝试失败: %s\n", attempt, lastErr)
			continue
		}

		if why := validate(validator, obj); why != "" {
			lastErr = "schema validation failed: " + why
			fmt.Printf(">>> [Extract] 第 %d 次尝试失败: %s\n", attempt, lastErr)
			// 给服务端一点喘息，避免连续打空转
			select {
			case <-time.After(400 * time.Millisecond):
			case <-ctx.Done():
				return nil, &ExhaustedError{Attempts: attempt, LastErr: ctx.Err().Error()}
			}
			continue
		}

		return obj, nil
	}

	return nil, &ExhaustedError{Attempts: maxTries, LastErr: lastErr}
}

func repairPrompt(original, priorReply, why string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\n# REPAIR CONTEXT\n")
	b.WriteString("Your previous response was invalid. Error: ")
	b.WriteString(why)
	b.WriteString("\nPrevious response:\n")
	b.WriteString(priorReply)
	b.WriteString("\n\nReturn ONLY a strictly valid JSON object that conforms to the schema above.")
	return b.String()
}

// FirstJSONBlob 截取文本中第一个配平的 {...}
// 用深度计数的括号匹配，字符串字面量（含转义引号）里的括号会被正确跳过。
// 合同文本里经常出现不配平或被引用的大括号，正则在这里是不够用的
func FirstJSONBlob(text string) string {
	text = stripFences(text)

	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}

	return ""
}

// stripFences 去掉模型爱加的 markdown 代码围栏
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i != -1 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j != -1 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}

func compileSchema(sc map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// validate 严格校验；返回第一条错误的 "$.path: message"，空串表示通过
// 把最具体的那条错误塞进修复 prompt，下一次尝试的信息量才最大
func validate(sch *jsonschema.Schema, obj types.ExtractedObject) string {
	err := sch.Validate(map[string]interface{}(obj))
	if err == nil {
		return ""
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := "$" + strings.ReplaceAll(leaf.InstanceLocation, "/", ".")
	return fmt.Sprintf("%s: %s", path, leaf.Message)
}
