package chat

import (
	"context"
	"log"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

func CreateOllamaChatModel(ctx context.Context, url string, modelName string) model.ToolCallingChatModel {
	chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: url,       // Ollama 服务地址
		Model:   modelName, // 模型名称
	})
	if err != nil {
		log.Fatalf("create ollama chat model failed: %v", err)
	}
	return chatModel
}

func CreateOpenAIChatModel(ctx context.Context, apiKey, baseURL, modelName string) model.ToolCallingChatModel {
	cfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  modelName,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	chatModel, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		log.Fatalf("create openai chat model failed: %v", err)
	}
	return chatModel
}
