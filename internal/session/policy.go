package session

import "talka-backend/internal/model"

// PickDefaultProvider 默认提供商策略：
// 恰好一方有凭证时选它；两者都有或都没有时优先主提供商。
func PickDefaultProvider(creds map[model.Provider]string) model.Provider {
	_, hasAnthropic := creds[model.ProviderAnthropic]
	_, hasOpenAI := creds[model.ProviderOpenAI]

	if hasOpenAI && !hasAnthropic {
		return model.ProviderOpenAI
	}

	return model.ProviderAnthropic
}

// Defaults 新建与迁移会话时使用的默认模型
type Defaults struct {
	AnthropicAgent string
	OpenAIAgent    string
}

func (d Defaults) AgentFor(p model.Provider) string {
	if p == model.ProviderOpenAI {
		return d.OpenAIAgent
	}
	return d.AnthropicAgent
}
