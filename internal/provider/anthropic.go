package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"talka-backend/internal/config"
	"talka-backend/internal/model"
)

// AnthropicAdapter 主提供商适配器，messages流式协议
type AnthropicAdapter struct {
	cfg *config.AnthropicConfig
}

func NewAnthropicAdapter(cfg *config.AnthropicConfig) *AnthropicAdapter {
	return &AnthropicAdapter{cfg: cfg}
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	Stream    bool                `json:"stream"`
	Thinking  *anthropicThinking  `json:"thinking,omitempty"`
	Tools     []anthropicTool     `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicTool struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	MaxUses int    `json:"max_uses,omitempty"`
}

// BuildRequest 组装messages请求体。系统提示走一等字段，
// 历史中的system角色消息也并入该字段。
func (a *AnthropicAdapter) BuildRequest(chat *model.Chat, history []model.Message, secret string) (*Request, error) {
	req := anthropicRequest{
		Model:     chat.Agent,
		MaxTokens: a.cfg.MaxTokens,
		Stream:    true,
	}

	systemParts := []string{}
	if chat.SystemPrompt != "" {
		systemParts = append(systemParts, chat.SystemPrompt)
	}

	for _, msg := range history {
		if msg.Role == model.RoleSystem {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}

		blocks := []anthropicBlock{}
		if msg.Attachment != nil {
			blocks = append(blocks, attachmentBlock(msg.Attachment))
		}
		if msg.Content != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
		}
		if len(blocks) == 0 {
			continue
		}

		req.Messages = append(req.Messages, anthropicMessage{
			Role:    string(msg.Role),
			Content: blocks,
		})
	}

	req.System = strings.Join(systemParts, "\n\n")

	if chat.Thinking.Enabled {
		req.Thinking = &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: chat.Thinking.BudgetTokens,
		}
	}

	if chat.WebSearch.Enabled {
		req.Tools = append(req.Tools, anthropicTool{
			Type:    "web_search_20250305",
			Name:    "web_search",
			MaxUses: chat.WebSearch.MaxUses,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	return &Request{
		Endpoint: a.cfg.BaseURL + "/v1/messages",
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         secret,
			"anthropic-version": a.cfg.Version,
		},
		Body: body,
	}, nil
}

func attachmentBlock(att *model.Attachment) anthropicBlock {
	blockType := "image"
	if att.Kind == model.AttachmentDocument {
		blockType = "document"
	}

	return anthropicBlock{
		Type: blockType,
		Source: &anthropicSource{
			Type:      "base64",
			MediaType: att.MediaType,
			Data:      att.Data,
		},
	}
}

type anthropicFrame struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
		Citation *struct {
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"citation"`
	} `json:"delta"`
}

// DecodeFrame 解释一个messages协议帧
func (a *AnthropicAdapter) DecodeFrame(data []byte) (Event, error) {
	var frame anthropicFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{}, fmt.Errorf("decode anthropic frame: %w", err)
	}

	switch frame.Type {
	case "message_start":
		return Event{Kind: EventStart}, nil
	case "content_block_delta":
		switch frame.Delta.Type {
		case "text_delta":
			return Event{Kind: EventContentDelta, Text: frame.Delta.Text}, nil
		case "thinking_delta":
			return Event{Kind: EventThinkingDelta, Text: frame.Delta.Thinking}, nil
		case "citations_delta":
			if frame.Delta.Citation != nil {
				return Event{Kind: EventCitation, Citation: &model.Citation{
					Title: frame.Delta.Citation.Title,
					URL:   frame.Delta.Citation.URL,
				}}, nil
			}
			return Event{Kind: EventIgnore}, nil
		default:
			return Event{Kind: EventIgnore}, nil
		}
	case "message_stop":
		return Event{Kind: EventStop}, nil
	default:
		// content_block_start、message_delta、ping等一律忽略
		return Event{Kind: EventIgnore}, nil
	}
}
