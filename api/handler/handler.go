package handler

import (
	"fmt"
	"time"

	"contract-extract/api/response"
	"contract-extract/service"
	"contract-extract/storage/postgres"
	"contract-extract/types"
	"contract-extract/vars"

	"github.com/gin-gonic/gin"
)

type ExtractionHandler struct {
	extractionSvc *service.ExtractionService
	retrievalSvc  *service.RetrievalService
	pgRepo        *postgres.DocumentRepo
}

func NewExtractionHandler(extractionSvc *service.ExtractionService, retrievalSvc *service.RetrievalService, pgRepo *postgres.DocumentRepo) *ExtractionHandler {
	return &ExtractionHandler{
		extractionSvc: extractionSvc,
		retrievalSvc:  retrievalSvc,
		pgRepo:        pgRepo,
	}
}

// Upload PDF 上传入口（支持多文件，单个失败不影响其他）
func (h *ExtractionHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		fmt.Println(">>> [DEBUG] error: 表单解析失败", err)
		response.Fail(c, "文件上传失败或格式错误")
		return
	}
	files := form.File["file"]
	if len(files) == 0 {
		response.Fail(c, "未接收到文件，请检查参数名是否为 'file'")
		return
	}
	docType := c.PostForm("doc_type")
	if docType == "" {
		response.Fail(c, "doc_type 不能为空")
		return
	}
	fmt.Printf(">>> [DEBUG] 收到文件列表，共 %d 个文件\n", len(files))

	var allResults []*service.ExtractResult
	var errorFiles []string
	for _, file := range files {
		fmt.Printf(">>> [DEBUG] ---> 开始处理文件: %s, 大小: %d\n", file.Filename, file.Size)

		results, err := h.extractionSvc.UploadAndProcess(c.Request.Context(), file, docType)
		if err != nil {
			fmt.Printf(">>> [ERROR] 文件 %s 处理失败: %v\n", file.Filename, err)
			errorFiles = append(errorFiles, file.Filename)
			continue
		}
		allResults = append(allResults, results...)
	}

	if len(allResults) == 0 && len(errorFiles) > 0 {
		response.Fail(c, fmt.Sprintf("所有文件处理失败: %v", errorFiles))
		return
	}

	response.Success(c, map[string]any{
		"results":     allResults,
		"total_count": len(allResults),
		"fail_files":  errorFiles,
	})
}

// Extract 纯文本抽取入口
func (h *ExtractionHandler) Extract(c *gin.Context) {
	var req types.ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "参数错误: doc_type 和 content 不能为空")
		return
	}

	result, err := h.extractionSvc.ProcessText(c.Request.Context(), req.DocType, req.Content, req.FileName)
	if err != nil {
		response.Fail(c, err.Error())
		return
	}
	response.Success(c, result)
}

func (h *ExtractionHandler) Search(c *gin.Context) {
	var req types.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "参数错误: query 不能为空")
		return
	}

	fmt.Printf(">>> [DEBUG] 收到搜索请求: %s\n", req.Query)

	result, err := h.retrievalSvc.Search(c.Request.Context(), req.Query)
	if err != nil {
		response.Fail(c, err.Error())
		return
	}
	response.Success(c, result)
}

// ReviewTasks 审核任务列表（priority 降序）
func (h *ExtractionHandler) ReviewTasks(c *gin.Context) {
	status := c.DefaultQuery("status", "pending")
	tasks, err := h.pgRepo.ListReviewTasks(c.Request.Context(), status, 100)
	if err != nil {
		response.Fail(c, err.Error())
		return
	}
	response.Success(c, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// ObligationsDue 到期义务列表
func (h *ExtractionHandler) ObligationsDue(c *gin.Context) {
	obligations, err := h.pgRepo.ObligationsDueSoon(c.Request.Context(), time.Now(), vars.DueSoonDays)
	if err != nil {
		response.Fail(c, err.Error())
		return
	}
	response.Success(c, map[string]any{
		"obligations": obligations,
		"count":       len(obligations),
	})
}

// DBHealth 库表健康检查
func (h *ExtractionHandler) DBHealth(c *gin.Context) {
	response.Success(c, h.pgRepo.Health(c.Request.Context()))
}

// DBSelfTest 数据库自检（只读等效：全程跑在单个事务里，最后回滚）
func (h *ExtractionHandler) DBSelfTest(c *gin.Context) {
	if c.Query("token") != vars.SELF_TEST_TOKEN {
		response.Fail(c, "invalid token")
		return
	}
	result := h.pgRepo.SelfTest(c.Request.Context())
	if !result.OK {
		fmt.Printf(">>> [SelfTest] 失败: %s\n", result.Error)
	}
	response.Success(c, result)
}
