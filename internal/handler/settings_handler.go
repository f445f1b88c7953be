// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sitechat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SettingsHandler 负责供应商设置的管理接口。
type SettingsHandler struct {
	settingsService service.SettingsService
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(settingsService service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// Get 返回脱敏后的供应商配置概览。
func (h *SettingsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    h.settingsService.Overview(c.Request.Context()),
	})
}

// ActiveProviderRequest 定义了切换激活供应商的请求体结构。
type ActiveProviderRequest struct {
	Provider string `json:"provider" binding:"required"`
}

// SetActiveProvider 切换当前激活的供应商。
func (h *SettingsHandler) SetActiveProvider(c *gin.Context) {
	var req ActiveProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：provider 不能为空"})
		return
	}

	if err := h.settingsService.SetActiveProvider(c.Request.Context(), req.Provider); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}
