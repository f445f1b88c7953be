// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"sitechat-go/internal/provider"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/log"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 挂件嵌在任意站点页面里，不限制来源
	},
}

// ChatHandler 负责处理访客聊天请求（HTTP 与 WebSocket 两种入口）。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理一次同步的聊天请求。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：message 不能为空",
		})
		return
	}

	envelope, err := h.chatService.Resolve(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    envelope,
	})
}

// writeError 把解析错误映射到 HTTP 状态码。
// 校验错误是调用方问题，供应商未配置是部署问题，其余一律视为上游故障。
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": err.Error(),
		})
	case errors.Is(err, provider.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    http.StatusServiceUnavailable,
			"message": "AI 服务尚未配置，请联系站点管理员",
		})
	default:
		log.Errorf("聊天解析失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": "AI 服务暂时不可用，请稍后重试",
		})
	}
}

// History 返回会话最近的对话轮次，供挂件恢复聊天界面。
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 sessionId"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	turns, err := h.chatService.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": turns})
}

// ResetRequest 定义了重置会话对话的请求体结构。
type ResetRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// Reset 结束会话当前的对话，下一条消息将开启新对话。
func (h *ChatHandler) Reset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：sessionId 不能为空"})
		return
	}

	if err := h.chatService.Reset(c.Request.Context(), req.SessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// wsMessage 是 WebSocket 入口接收的消息格式。
type wsMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle"`
}

// Handle 处理一个传入的 WebSocket 连接。
// 每条入站消息走一次完整解析，响应以统一信封回发。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: %s", c.ClientIP())

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		req := &service.ChatRequest{
			Message:   msg.Message,
			SessionID: msg.SessionID,
			PageURL:   msg.PageURL,
			PageTitle: msg.PageTitle,
		}
		envelope, err := h.chatService.Resolve(c.Request.Context(), req)
		if err != nil {
			payload := gin.H{"type": "error", "message": wsErrorText(err)}
			if werr := conn.WriteJSON(payload); werr != nil {
				log.Warnf("向 WebSocket 写入错误响应失败: %v", werr)
				break
			}
			continue
		}

		if err := conn.WriteJSON(gin.H{"type": "response", "data": envelope}); err != nil {
			log.Warnf("向 WebSocket 写入响应失败: %v", err)
			break
		}
	}
}

// wsErrorText 给 WebSocket 客户端的错误文案，与 HTTP 入口保持一致的粒度。
func wsErrorText(err error) string {
	switch {
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMessageTooLong):
		return err.Error()
	case errors.Is(err, provider.ErrNotConfigured):
		return "AI 服务尚未配置，请联系站点管理员"
	default:
		log.Errorf("聊天解析失败: %v", err)
		return "AI 服务暂时不可用，请稍后重试"
	}
}
