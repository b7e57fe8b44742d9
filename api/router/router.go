package router

import (
	"contract-extract/api/handler"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, h *handler.ExtractionHandler) {
	api := r.Group("/api/v1")
	{
		document := api.Group("/document")
		{
			document.POST("/upload", h.Upload)
			document.POST("/extract", h.Extract)
		}
		retrieval := api.Group("/retrieval")
		{
			retrieval.POST("/search", h.Search)
		}
		review := api.Group("/review")
		{
			review.GET("/tasks", h.ReviewTasks)
		}
		obligation := api.Group("/obligation")
		{
			obligation.GET("/due", h.ObligationsDue)
		}
	}

	admin := r.Group("/admin")
	{
		admin.GET("/db-health", h.DBHealth)
		admin.GET("/db-self-test", h.DBSelfTest)
	}
}
