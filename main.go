package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"contract-extract/api/handler"
	"contract-extract/api/router"
	"contract-extract/job"
	"contract-extract/logic/chat"
	"contract-extract/logic/ingestion/transform"
	schemaloader "contract-extract/logic/schema"
	"contract-extract/service"
	"contract-extract/storage/es"
	"contract-extract/storage/milvus"
	"contract-extract/storage/postgres"
	"contract-extract/vars"

	"github.com/cloudwego/eino-ext/components/embedding/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
)

func main() {
	ctx := context.Background()
	// 1. 初始化 DB
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		vars.PGHOST, vars.PGUSER, vars.PGPWD, vars.PGDB, vars.PGPORT)
	db, err := postgres.InitDB(dsn)
	if err != nil {
		panic(err)
	}
	if err := postgres.Migrate(db); err != nil {
		panic(err)
	}

	pgRepo := postgres.NewDocumentRepo(db)
	persister := postgres.NewPersister(db)

	// 启动定时任务
	job.StartCronJob(pgRepo)

	// 2. schema 解析器
	resolver := schemaloader.NewResolver(vars.DOC_TYPES_DIR, vars.BASE_SCHEMA_PATH)

	// 3. 初始化 LLM Model
	var chatModel model.ToolCallingChatModel
	if vars.EXTRACT_PROVIDER == "openai" {
		chatModel = chat.CreateOpenAIChatModel(ctx, vars.OPENAI_API_KEY, vars.OPENAI_BASE_URL, vars.EXTRACT_MODEL)
	} else {
		chatModel = chat.CreateOllamaChatModel(ctx, vars.OLLAMA_PATH, vars.EXTRACT_MODEL)
	}
	gateway := chat.NewGateway(chatModel, chat.Options{
		Temperature: float32(vars.EXTRACT_T),
		MaxTokens:   vars.EXTRACT_MAX_TOKENS,
		Timeout:     time.Duration(vars.EXTRACT_TIMEOUT_S) * time.Second,
	})

	rawEmbedder, err := ollama.NewEmbedder(ctx, &ollama.EmbeddingConfig{
		BaseURL: vars.OLLAMA_PATH,
		Model:   vars.NOMIC,
		Timeout: 60 * time.Second,
	})
	if err != nil {
		panic(err)
	}
	embedder := transform.NewCleanEmbedder(rawEmbedder)

	// 创建全局 Milvus Client（复用）
	milvusClient, err := client.NewClient(ctx, client.Config{
		Address: vars.MILVUSADDR,
	})
	if err != nil {
		panic(fmt.Sprintf("Milvus 连接失败:%v", err))
	}
	log.Println("Milvus 全局连接已创建")

	indexer, err := milvus.NewMilvusIndexerWithClient(ctx, milvusClient, embedder, vars.COLLECTION)
	if err != nil {
		panic(fmt.Sprintf("Milvus 初始化失败:%v", err))
	}

	esIndexer, err := es.NewESIndexer([]string{vars.ESADDR}, vars.ESINDEX)
	if err != nil {
		panic(err)
	}

	// 4. 初始化 Service (业务层)
	extractionSvc := service.NewExtractionService(pgRepo, persister, resolver, gateway, embedder, indexer, esIndexer)
	retrievalSvc := service.NewRetrievalService(pgRepo, chatModel, embedder, milvusClient, esIndexer.GetClient())

	// 5. 初始化 Handler (API 层)
	h := handler.NewExtractionHandler(extractionSvc, retrievalSvc, pgRepo)

	// 6. 启动 Web Server
	r := gin.Default()
	router.RegisterRoutes(r, h)

	log.Println("Server running on :8081")
	r.Run(":8081")
}
