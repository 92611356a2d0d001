package provider

import (
	"talka-backend/internal/config"
	"talka-backend/internal/model"
)

// EventKind 已解析帧的封闭事件集合。未识别的帧归为 EventIgnore，
// 保持向前兼容，永不致命。
type EventKind int

const (
	EventIgnore EventKind = iota
	EventStart
	EventContentDelta
	EventThinkingDelta
	EventCitation
	EventStop
)

// Event 一个帧解释后的效果
type Event struct {
	Kind     EventKind
	Text     string
	Citation *model.Citation
}

// Request 适配器产出的出站请求形状，始终请求流式响应
type Request struct {
	Endpoint string
	Headers  map[string]string
	Body     []byte
}

// Adapter 把会话配置与消息历史映射为各提供商的请求，
// 并把流式帧解释为统一的事件
type Adapter interface {
	BuildRequest(chat *model.Chat, history []model.Message, secret string) (*Request, error)
	DecodeFrame(data []byte) (Event, error)
}

// ForProvider 按提供商选择适配器
func ForProvider(p model.Provider, cfg *config.Config) Adapter {
	switch p {
	case model.ProviderOpenAI:
		return NewOpenAIAdapter(&cfg.OpenAI)
	default:
		return NewAnthropicAdapter(&cfg.Anthropic)
	}
}
