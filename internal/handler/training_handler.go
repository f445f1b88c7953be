// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
)

// TrainingHandler 负责训练问答数据的管理接口。
type TrainingHandler struct {
	trainingService service.TrainingService
}

// NewTrainingHandler 创建一个新的 TrainingHandler 实例。
func NewTrainingHandler(trainingService service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

// TrainingRequest 定义了新增/修改问答对的请求体结构。
type TrainingRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// Create 新增一条问答对。
func (h *TrainingHandler) Create(c *gin.Context) {
	var req TrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	pair, err := h.trainingService.Create(req.Question, req.Answer, req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": pair})
}

// Update 修改一条问答对。
func (h *TrainingHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 id"})
		return
	}

	var req TrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	pair, err := h.trainingService.Update(uint(id), req.Question, req.Answer, req.Category, req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": pair})
}

// Delete 删除一条问答对。
func (h *TrainingHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的 id"})
		return
	}

	if err := h.trainingService.Delete(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// List 分页返回问答对。
func (h *TrainingHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	pairs, total, err := h.trainingService.List((page-1)*size, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": pairs, "total": total, "page": page, "size": size},
	})
}

// Import 从上传的 CSV 文件批量导入问答对。
func (h *TrainingHandler) Import(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 file 字段"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件"})
		return
	}
	defer f.Close()

	count, err := h.trainingService.ImportCSV(f)
	if err != nil {
		log.Warnf("训练数据导入失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"imported": count}})
}

// Export 导出全部问答对，返回对象存储的下载链接。
func (h *TrainingHandler) Export(c *gin.Context) {
	url, err := h.trainingService.ExportCSV(c.Request.Context())
	if err != nil {
		log.Errorf("训练数据导出失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}
