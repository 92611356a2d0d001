package model

// StreamRequest 发送消息并流式获取助手回复
type StreamRequest struct {
	ChatID     string      `json:"chat_id" binding:"required"`
	Message    string      `json:"message" binding:"required"`
	Attachment *Attachment `json:"attachment"`
}

// CreateChatRequest 新建会话，provider留空时按默认策略选择
type CreateChatRequest struct {
	Provider Provider `json:"provider"`
	Agent    string   `json:"agent"`
}

// UpdateChatRequest 会话配置更新，nil字段保持原值
type UpdateChatRequest struct {
	Title        *string          `json:"title"`
	SystemPrompt *string          `json:"system_prompt"`
	Provider     *Provider        `json:"provider"`
	Agent        *string          `json:"agent"`
	WebSearch    *WebSearchConfig `json:"web_search"`
	Thinking     *ThinkingConfig  `json:"thinking"`
}

// ReorderRequest 会话显示顺序整体替换
type ReorderRequest struct {
	Order []string `json:"order" binding:"required"`
}

// SetCurrentRequest 切换当前会话
type SetCurrentRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
}

// CredentialRequest 设置或清除某个提供商的凭证，secret为空表示清除
type CredentialRequest struct {
	Provider Provider `json:"provider" binding:"required"`
	Secret   string   `json:"secret"`
}

// InsertMessageRequest 直接向会话插入一条消息
type InsertMessageRequest struct {
	Role       Role        `json:"role" binding:"required"`
	Content    string      `json:"content" binding:"required"`
	Attachment *Attachment `json:"attachment"`
}

// EditMessageRequest 按下标就地编辑消息内容
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}
