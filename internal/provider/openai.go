package provider

import (
	"bytes"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"talka-backend/internal/config"
	"talka-backend/internal/model"
)

// OpenAIAdapter 次提供商适配器，chat completions流式协议。
// 消息形状复用go-openai的类型，传输层仍是原始HTTP，
// 字节流交给摄取引擎自行解码。
type OpenAIAdapter struct {
	cfg *config.OpenAIConfig
}

func NewOpenAIAdapter(cfg *config.OpenAIConfig) *OpenAIAdapter {
	return &OpenAIAdapter{cfg: cfg}
}

type openaiRequest struct {
	Model     string                         `json:"model"`
	Messages  []openai.ChatCompletionMessage `json:"messages"`
	Stream    bool                           `json:"stream"`
	MaxTokens int                            `json:"max_tokens,omitempty"`
	Reasoning *openaiReasoning               `json:"reasoning,omitempty"`
	WebSearch *openaiWebSearch               `json:"web_search_options,omitempty"`
}

type openaiReasoning struct {
	MaxTokens int `json:"max_tokens"`
}

type openaiWebSearch struct {
	MaxSearches int `json:"max_searches,omitempty"`
}

// BuildRequest 组装chat completions请求体。系统提示按该协议惯例
// 注入为首条system消息；空的assistant消息会被跳过。
func (o *OpenAIAdapter) BuildRequest(chat *model.Chat, history []model.Message, secret string) (*Request, error) {
	req := openaiRequest{
		Model:     chat.Agent,
		Stream:    true,
		MaxTokens: o.cfg.MaxTokens,
	}

	if chat.SystemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: chat.SystemPrompt,
		})
	}

	for _, msg := range history {
		if msg.Role == model.RoleAssistant && msg.Content == "" {
			continue
		}

		converted := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if msg.Attachment != nil && msg.Attachment.Kind == model.AttachmentImage {
			// 图片附件内联为data URL；该协议没有文档块，文档附件不随请求发送
			parts := []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: dataURL(msg.Attachment),
					},
				},
			}
			if msg.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			converted.MultiContent = parts
		} else {
			converted.Content = msg.Content
		}

		req.Messages = append(req.Messages, converted)
	}

	if chat.Thinking.Enabled {
		req.Reasoning = &openaiReasoning{MaxTokens: chat.Thinking.BudgetTokens}
	}
	if chat.WebSearch.Enabled {
		req.WebSearch = &openaiWebSearch{MaxSearches: chat.WebSearch.MaxUses}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	return &Request{
		Endpoint: o.cfg.BaseURL + "/v1/chat/completions",
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + secret,
		},
		Body: body,
	}, nil
}

func dataURL(att *model.Attachment) string {
	return fmt.Sprintf("data:%s;base64,%s", att.MediaType, att.Data)
}

var doneMarker = []byte("[DONE]")

// DecodeFrame 解释一个chat completions流式帧
func (o *OpenAIAdapter) DecodeFrame(data []byte) (Event, error) {
	if bytes.Equal(bytes.TrimSpace(data), doneMarker) {
		return Event{Kind: EventStop}, nil
	}

	var frame openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{}, fmt.Errorf("decode openai frame: %w", err)
	}

	if len(frame.Choices) == 0 {
		return Event{Kind: EventIgnore}, nil
	}

	choice := frame.Choices[0]
	if choice.Delta.Content != "" {
		return Event{Kind: EventContentDelta, Text: choice.Delta.Content}, nil
	}
	if choice.FinishReason == openai.FinishReasonStop {
		return Event{Kind: EventStop}, nil
	}

	return Event{Kind: EventIgnore}, nil
}
