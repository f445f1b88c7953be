// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sitechat-go/internal/service"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// AnalyticsHandler 负责用量统计与对话记录的查询接口。
type AnalyticsHandler struct {
	analyticsService service.AnalyticsService
}

// NewAnalyticsHandler 创建一个新的 AnalyticsHandler 实例。
func NewAnalyticsHandler(analyticsService service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService}
}

// Usage 返回日期区间内的用量汇总，默认最近 30 天。
func (h *AnalyticsHandler) Usage(c *gin.Context) {
	to := c.DefaultQuery("to", time.Now().Format("2006-01-02"))
	from := c.DefaultQuery("from", time.Now().AddDate(0, 0, -30).Format("2006-01-02"))

	if _, err := time.Parse("2006-01-02", from); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 from 日期"})
		return
	}
	if _, err := time.Parse("2006-01-02", to); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 to 日期"})
		return
	}

	summary, err := h.analyticsService.UsageSummary(from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summary})
}

// Conversations 分页返回最近的对话轮次。
func (h *AnalyticsHandler) Conversations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	turns, total, err := h.analyticsService.RecentConversations((page-1)*size, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": turns, "total": total, "page": page, "size": size},
	})
}
