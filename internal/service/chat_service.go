package service

import (
	"context"
	"net/http"
	"time"

	"talka-backend/internal/config"
	"talka-backend/internal/model"
	"talka-backend/internal/provider"
	"talka-backend/internal/session"
	"talka-backend/internal/stream"
	"talka-backend/internal/utils"
	"talka-backend/pkg/logger"
)

// ChatService 发送消息的编排层：向适配器要请求、交给摄取引擎、
// 在COMPLETE检查点请会话仓库提交。
type ChatService struct {
	repo   *session.Repository
	cfg    *config.Config
	client *http.Client
}

func NewChatService(cfg *config.Config, repo *session.Repository) *ChatService {
	timeout := cfg.Anthropic.Timeout
	if cfg.OpenAI.Timeout > timeout {
		timeout = cfg.OpenAI.Timeout
	}

	return &ChatService{
		repo:   repo,
		cfg:    cfg,
		client: utils.NewHTTPClient(timeout),
	}
}

// Repository 暴露仓库给处理器层使用
func (s *ChatService) Repository() *session.Repository {
	return s.repo
}

// StreamChat 附加用户消息并流式获取助手回复。
// 增量事件经respChan交给调用方；失败经errChan，且只发一次。
func (s *ChatService) StreamChat(ctx context.Context, req *model.StreamRequest) (<-chan model.StreamEvent, <-chan error) {
	respChan := make(chan model.StreamEvent, 64)
	errChan := make(chan error, 1)

	go func() {
		defer close(respChan)
		if err := s.streamChat(ctx, req, respChan); err != nil {
			errChan <- err
		}
	}()

	return respChan, errChan
}

func (s *ChatService) streamChat(ctx context.Context, req *model.StreamRequest, events chan<- model.StreamEvent) error {
	chat, err := s.repo.BeginStream(req.ChatID)
	if err != nil {
		return err
	}
	defer s.repo.EndStream(req.ChatID)

	chat, err = s.repo.AppendMessage(req.ChatID, model.RoleUser, req.Message, req.Attachment)
	if err != nil {
		return err
	}

	// 在途助手消息：引擎逐帧增长，COMPLETE前不进入持久存储
	reply := &model.Message{
		ID:        model.NewMessageID(),
		Role:      model.RoleAssistant,
		Timestamp: time.Now(),
	}

	emit := func(eventType, delta string, citation *model.Citation) {
		event := model.StreamEvent{
			ChatID:    chat.ID,
			MessageID: reply.ID,
			Type:      eventType,
			Delta:     delta,
			Citation:  citation,
			Timestamp: time.Now().Unix(),
		}
		// 调用方断开时不再阻塞推送
		select {
		case events <- event:
		case <-ctx.Done():
		}
	}

	callbacks := stream.Callbacks{
		OnContent:  func(delta string) { emit("content", delta, nil) },
		OnThinking: func(delta string) { emit("thinking", delta, nil) },
		OnCitation: func(c model.Citation) { emit("citation", "", &c) },
		OnError:    func(text string) { emit("error", text, nil) },
	}

	adapter := provider.ForProvider(chat.Provider, s.cfg)

	secret, ok := s.repo.Credential(chat.Provider)
	if !ok {
		// 缺凭证与请求失败同等对待：固定文案顶替回复，不重试
		reply.Content = stream.ErrorReplyText
		callbacks.OnError(stream.ErrorReplyText)
		return stream.ErrRequestFailed
	}

	outbound, err := adapter.BuildRequest(chat, chat.Messages, secret)
	if err != nil {
		reply.Content = stream.ErrorReplyText
		callbacks.OnError(stream.ErrorReplyText)
		return err
	}

	engine := stream.NewEngine(s.client)
	if err := engine.Run(ctx, outbound, adapter, reply, callbacks); err != nil {
		logger.Errorf("Stream for chat %s failed: %v", chat.ID, err)
		return err
	}

	// COMPLETE检查点：整条回复一次性落盘
	if err := s.repo.CommitReply(chat.ID, reply); err != nil {
		return err
	}

	logger.Infof("Stream for chat %s completed, %d bytes of content", chat.ID, len(reply.Content))
	return nil
}
