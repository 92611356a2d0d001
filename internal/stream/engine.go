package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"talka-backend/internal/model"
	"talka-backend/internal/provider"
	"talka-backend/pkg/logger"
)

// State 单次发送操作的状态机
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateComplete
	StateFailed
)

const dataPrefix = "data: "

// ErrorReplyText 发送失败时顶替助手回复的固定文案
const ErrorReplyText = "Sorry, there was an error processing your request. Please check your API key and try again."

// ErrRequestFailed 请求层失败：非成功状态码或传输错误
var ErrRequestFailed = errors.New("provider request failed")

// Callbacks 每次增量变更后的渲染回调，核心只管调用
type Callbacks struct {
	OnContent  func(delta string)
	OnThinking func(delta string)
	OnCitation func(citation model.Citation)
	OnError    func(text string)
}

// Engine 流式摄取引擎：发出适配器构造的请求，把响应字节流
// 还原成帧并逐帧解释，就地增长一条在途助手消息。
// 单个引擎实例服务单次发送，不可复用。
type Engine struct {
	client *http.Client
	state  State
}

func NewEngine(client *http.Client) *Engine {
	return &Engine{client: client, state: StateIdle}
}

// State 当前状态，供调用方与测试观察
func (e *Engine) State() State {
	return e.state
}

// Run 执行 REQUESTING → STREAMING → {COMPLETE, FAILED}。
// 成功返回时msg组装完毕，由调用方负责提交；失败时msg内容
// 已替换为固定错误文案且不应提交。
func (e *Engine) Run(ctx context.Context, req *provider.Request, adapter provider.Adapter, msg *model.Message, cb Callbacks) error {
	e.state = StateRequesting

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(req.Body))
	if err != nil {
		return e.fail(msg, cb, fmt.Errorf("%w: %v", ErrRequestFailed, err))
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return e.fail(msg, cb, fmt.Errorf("%w: %v", ErrRequestFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return e.fail(msg, cb, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode))
	}

	e.state = StateStreaming

	decoder := &LineDecoder{}
	buf := make([]byte, 4096)
	stopped := false

	for !stopped {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range decoder.Feed(buf[:n]) {
				if e.applyLine(line, adapter, msg, cb) {
					stopped = true
					break
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			// 流中途的传输错误，单帧解析失败不会走到这里
			return e.fail(msg, cb, fmt.Errorf("%w: %v", ErrRequestFailed, readErr))
		}
	}

	if !stopped {
		// 服务端没发结束帧就断开：对残留的半行补一次解析，
		// 已累积的内容照常提交
		if rest := decoder.Rest(); rest != "" {
			e.applyLine(rest, adapter, msg, cb)
		}
	}

	e.state = StateComplete
	return nil
}

// applyLine 处理一行，返回是否收到结束帧
func (e *Engine) applyLine(line string, adapter provider.Adapter, msg *model.Message, cb Callbacks) bool {
	if !strings.HasPrefix(line, dataPrefix) {
		return false
	}

	payload := strings.TrimPrefix(line, dataPrefix)
	event, err := adapter.DecodeFrame([]byte(payload))
	if err != nil {
		// 单个损坏帧跳过，流继续
		logger.Warnf("Skipping malformed frame: %v", err)
		return false
	}

	switch event.Kind {
	case provider.EventStart:
		msg.Content = ""
	case provider.EventContentDelta:
		msg.Content += event.Text
		if cb.OnContent != nil {
			cb.OnContent(event.Text)
		}
	case provider.EventThinkingDelta:
		msg.Thinking += event.Text
		if cb.OnThinking != nil {
			cb.OnThinking(event.Text)
		}
	case provider.EventCitation:
		msg.Citations = append(msg.Citations, *event.Citation)
		if cb.OnCitation != nil {
			cb.OnCitation(*event.Citation)
		}
	case provider.EventStop:
		return true
	}

	return false
}

// fail 进入FAILED：回复内容替换为固定文案并触发渲染，不重试
func (e *Engine) fail(msg *model.Message, cb Callbacks, err error) error {
	e.state = StateFailed
	msg.Content = ErrorReplyText
	if cb.OnError != nil {
		cb.OnError(ErrorReplyText)
	}
	return err
}
