package model

import "time"

// ChatSummary 会话列表项
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Provider     Provider  `json:"provider"`
	Agent        string    `json:"agent"`
	Archived     bool      `json:"archived"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatListResponse 活跃会话按显示顺序排列，归档会话单独一组
type ChatListResponse struct {
	Chats         []ChatSummary `json:"chats"`
	ArchivedChats []ChatSummary `json:"archived_chats"`
	CurrentChatID string        `json:"current_chat_id,omitempty"`
}

// StreamEvent 推送给调用方的一次增量效果
type StreamEvent struct {
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id"`
	Type      string    `json:"type"` // content | thinking | citation | error
	Delta     string    `json:"delta,omitempty"`
	Citation  *Citation `json:"citation,omitempty"`
	Timestamp int64     `json:"timestamp"`
}
