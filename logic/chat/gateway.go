package chat

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Options 单次补全的参数
type Options struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Gateway 补全服务的薄封装：纯函数 (prompt, options) → 文本
// 无状态、可重试；超时/非 JSON/schema 违规都由上层的修复循环兜住
type Gateway struct {
	model model.ToolCallingChatModel
	opts  Options
}

func NewGateway(m model.ToolCallingChatModel, opts Options) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Gateway{model: m, opts: opts}
}

// Complete 调用模型拿原始文本；每次调用自带超时
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	genOpts := []model.Option{model.WithTemperature(g.opts.Temperature)}
	if g.opts.MaxTokens > 0 {
		genOpts = append(genOpts, model.WithMaxTokens(g.opts.MaxTokens))
	}

	resp, err := g.model.Generate(callCtx, []*schema.Message{
		schema.UserMessage(prompt),
	}, genOpts...)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
