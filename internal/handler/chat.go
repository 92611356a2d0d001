package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"talka-backend/internal/model"
	"talka-backend/internal/service"
	"talka-backend/internal/session"
	"talka-backend/internal/storage"
	"talka-backend/internal/utils"
	"talka-backend/pkg/logger"
)

// ChatHandler 把HTTP命令面翻译成对核心的调用
type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// StreamChat 发送消息并把增量事件以SSE转发给前端
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	ctx := c.Request.Context()

	respChan, errChan := h.chatService.StreamChat(ctx, &req)

	for {
		select {
		case event, ok := <-respChan:
			if !ok {
				// 流结束前若有挂起错误，先转发再收尾
				select {
				case err := <-errChan:
					h.writeStreamError(sseWriter, err)
				default:
				}
				sseWriter.Close()
				return
			}

			data, err := json.Marshal(event)
			if err != nil {
				logger.Errorf("Failed to marshal stream event: %v", err)
				continue
			}
			if err := sseWriter.Write("message", string(data)); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case <-ctx.Done():
			sseWriter.Close()
			return
		}
	}
}

func (h *ChatHandler) writeStreamError(w *utils.SSEWriter, err error) {
	if err == nil {
		return
	}

	status := "error"
	if errors.Is(err, session.ErrStreamInFlight) {
		status = "busy"
	}
	data, _ := json.Marshal(gin.H{"type": status, "error": err.Error()})
	w.Write("error", string(data))
}

// CreateSession 新建会话
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateChatRequest
	// 允许空请求体，按默认策略选择提供商
	_ = c.ShouldBindJSON(&req)

	chat, err := h.chatService.Repository().CreateChat(req.Provider, req.Agent)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// GetSessionList 会话列表（活跃按显示顺序 + 归档）
func (h *ChatHandler) GetSessionList(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.Repository().List())
}

// GetSession 单个会话详情
func (h *ChatHandler) GetSession(c *gin.Context) {
	chat, err := h.chatService.Repository().GetChat(c.Param("chat_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// UpdateSession 会话配置更新
func (h *ChatHandler) UpdateSession(c *gin.Context) {
	var req model.UpdateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.chatService.Repository().UpdateChat(c.Param("chat_id"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// ArchiveSession 归档会话
func (h *ChatHandler) ArchiveSession(c *gin.Context) {
	if err := h.chatService.Repository().ArchiveChat(c.Param("chat_id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "archived"})
}

// UnarchiveSession 恢复归档会话
func (h *ChatHandler) UnarchiveSession(c *gin.Context) {
	if err := h.chatService.Repository().UnarchiveChat(c.Param("chat_id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// DeleteSession 永久删除活跃会话
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.chatService.Repository().DeleteChat(c.Param("chat_id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// DeleteArchivedSession 永久删除归档会话
func (h *ChatHandler) DeleteArchivedSession(c *gin.Context) {
	if err := h.chatService.Repository().DeleteArchivedChat(c.Param("chat_id")); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ReorderSessions 整体替换显示顺序
func (h *ChatHandler) ReorderSessions(c *gin.Context) {
	var req model.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.Repository().Reorder(req.Order); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": req.Order})
}

// SetCurrentSession 切换当前会话
func (h *ChatHandler) SetCurrentSession(c *gin.Context) {
	var req model.SetCurrentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.Repository().SetCurrent(req.ChatID); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"current_chat_id": req.ChatID})
}

// InsertMessage 直接插入一条消息
func (h *ChatHandler) InsertMessage(c *gin.Context) {
	var req model.InsertMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.chatService.Repository().AppendMessage(c.Param("chat_id"), req.Role, req.Content, req.Attachment)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chat)
}

// EditMessage 按下标编辑消息
func (h *ChatHandler) EditMessage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message index"})
		return
	}

	var req model.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.Repository().EditMessage(c.Param("chat_id"), index, req.Content); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteMessage 按下标删除消息
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message index"})
		return
	}

	if err := h.chatService.Repository().DeleteMessage(c.Param("chat_id"), index); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// UpdateCredential 设置或清除提供商凭证
func (h *ChatHandler) UpdateCredential(c *gin.Context) {
	var req model.CredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.Repository().UpdateCredential(req.Provider, req.Secret); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError 统一把核心错误翻译成HTTP状态码
func (h *ChatHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrStreamInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoCredential),
		errors.Is(err, session.ErrUnknownProvider),
		errors.Is(err, session.ErrBadOrder),
		errors.Is(err, session.ErrMessageIndex),
		errors.Is(err, session.ErrChatArchived),
		errors.Is(err, storage.ErrInvalidData):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("Internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
