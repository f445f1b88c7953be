// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sitechat-go/internal/model"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ContentHandler 负责站点内容索引的管理接口。
type ContentHandler struct {
	contextService service.ContextService
}

// NewContentHandler 创建一个新的 ContentHandler 实例。
func NewContentHandler(contextService service.ContextService) *ContentHandler {
	return &ContentHandler{contextService: contextService}
}

// IndexRequest 定义了内容索引接口的请求体结构。
type IndexRequest struct {
	DocID   string `json:"docId" binding:"required"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content" binding:"required"`
}

// Index 把一篇站点内容写入检索索引。
func (h *ContentHandler) Index(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：docId 与 content 不能为空"})
		return
	}

	doc := model.ContentDocument{
		DocID:   req.DocID,
		Title:   req.Title,
		URL:     req.URL,
		Content: req.Content,
	}
	if err := h.contextService.IndexContent(c.Request.Context(), doc); err != nil {
		log.Errorf("索引站点内容失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// Search 调试用的内容检索接口。
func (h *ContentHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q"})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "5"))

	snippets, err := h.contextService.Search(c.Request.Context(), query, topK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": snippets})
}
