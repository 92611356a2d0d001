package model

import "time"

// Provider 聊天后端提供商
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Valid 判断是否为受支持的提供商
func (p Provider) Valid() bool {
	return p == ProviderAnthropic || p == ProviderOpenAI
}

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 判断是否为合法角色
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// AttachmentKind 附件类型
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment 消息附件，内容以base64文本形式携带
type Attachment struct {
	Name      string         `json:"name"`
	Kind      AttachmentKind `json:"kind"`
	Data      string         `json:"data"`
	MediaType string         `json:"media_type"`
}

// Citation 网络检索引用
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message 会话中的一条消息
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Thinking   string      `json:"thinking,omitempty"`
	Citations  []Citation  `json:"citations,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// WebSearchConfig 网络检索开关与调用上限
type WebSearchConfig struct {
	Enabled bool `json:"enabled"`
	MaxUses int  `json:"max_uses"`
}

// ThinkingConfig 扩展思考开关与token预算
type ThinkingConfig struct {
	Enabled      bool `json:"enabled"`
	BudgetTokens int  `json:"budget_tokens"`
}

// Chat 一个独立会话及其配置
type Chat struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Messages     []Message       `json:"messages"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Provider     Provider        `json:"provider"`
	Agent        string          `json:"agent"`
	WebSearch    WebSearchConfig `json:"web_search"`
	Thinking     ThinkingConfig  `json:"thinking"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone 深拷贝会话，消息切片与附件都复制一份
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		cloned.Messages[i] = *msg.Clone()
	}

	return &cloned
}

// Clone 深拷贝消息
func (m *Message) Clone() *Message {
	cloned := *m
	if m.Attachment != nil {
		att := *m.Attachment
		cloned.Attachment = &att
	}
	if m.Citations != nil {
		cloned.Citations = make([]Citation, len(m.Citations))
		copy(cloned.Citations, m.Citations)
	}
	return &cloned
}
