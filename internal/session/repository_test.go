package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talka-backend/internal/model"
	"talka-backend/internal/storage"
)

var testDefaults = Defaults{
	AnthropicAgent: "claude-3-5-sonnet-20241022",
	OpenAIAgent:    "gpt-4o",
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	store := storage.NewMemoryStore()
	require.NoError(t, store.Init())

	repo := NewRepository(store, testDefaults)
	require.NoError(t, repo.Load())
	require.NoError(t, repo.SeedCredential(model.ProviderAnthropic, "sk-ant-test"))
	require.NoError(t, repo.SeedCredential(model.ProviderOpenAI, "sk-oai-test"))
	return repo
}

// assertInvariants 分区不变量与顺序不变量：每个会话恰好属于一个集合，
// 顺序表是活跃集合键的无重排列
func assertInvariants(t *testing.T, repo *Repository) {
	t.Helper()

	repo.mu.RLock()
	defer repo.mu.RUnlock()

	for id := range repo.active {
		_, inArchived := repo.archived[id]
		assert.False(t, inArchived, "chat %s in both collections", id)
	}

	seen := make(map[string]struct{})
	for _, id := range repo.order {
		_, isActive := repo.active[id]
		assert.True(t, isActive, "order contains non-active id %s", id)
		_, dup := seen[id]
		assert.False(t, dup, "order contains duplicate id %s", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, repo.order, len(repo.active), "order must cover every active chat")
}

func TestCreateChatPrependsToOrder(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.CreateChat(model.ProviderAnthropic, "")
	require.NoError(t, err)
	second, err := repo.CreateChat(model.ProviderAnthropic, "")
	require.NoError(t, err)

	assert.Equal(t, testDefaults.AnthropicAgent, first.Agent)
	assert.Equal(t, []string{second.ID, first.ID}, repo.Order())
	assertInvariants(t, repo)
}

func TestArchiveUnarchiveRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	chat, err := repo.CreateChat("", "")
	require.NoError(t, err)
	other, err := repo.CreateChat("", "")
	require.NoError(t, err)

	require.NoError(t, repo.ArchiveChat(chat.ID))
	assertInvariants(t, repo)
	assert.Equal(t, []string{other.ID}, repo.Order())

	// 归档的会话仍可按ID取到
	got, err := repo.GetChat(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	require.NoError(t, repo.UnarchiveChat(chat.ID))
	assertInvariants(t, repo)
	assert.Equal(t, []string{chat.ID, other.ID}, repo.Order())
	assert.Equal(t, chat.ID, repo.Current())
}

func TestDeleteChatRemovesEverywhere(t *testing.T) {
	repo := newTestRepo(t)

	chat, err := repo.CreateChat("", "")
	require.NoError(t, err)

	require.NoError(t, repo.DeleteChat(chat.ID))
	assertInvariants(t, repo)

	_, err = repo.GetChat(chat.ID)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
	assert.ErrorIs(t, repo.DeleteChat(chat.ID), storage.ErrChatNotFound)
}

func TestDeleteArchivedChat(t *testing.T) {
	repo := newTestRepo(t)

	chat, err := repo.CreateChat("", "")
	require.NoError(t, err)
	require.NoError(t, repo.ArchiveChat(chat.ID))

	require.NoError(t, repo.DeleteArchivedChat(chat.ID))
	_, err = repo.GetChat(chat.ID)
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
	assertInvariants(t, repo)
}

func TestReorderValidatesPermutation(t *testing.T) {
	repo := newTestRepo(t)

	a, _ := repo.CreateChat("", "")
	b, _ := repo.CreateChat("", "")
	c, _ := repo.CreateChat("", "")

	require.NoError(t, repo.Reorder([]string{a.ID, c.ID, b.ID}))
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, repo.Order())

	// 缺一个、重复、外来ID都要拒绝
	assert.ErrorIs(t, repo.Reorder([]string{a.ID, b.ID}), ErrBadOrder)
	assert.ErrorIs(t, repo.Reorder([]string{a.ID, a.ID, b.ID}), ErrBadOrder)
	assert.ErrorIs(t, repo.Reorder([]string{a.ID, b.ID, "stranger"}), ErrBadOrder)

	// 拒绝后原顺序保持不变
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, repo.Order())
	assertInvariants(t, repo)
}

func TestCurrentFallsBackAfterArchive(t *testing.T) {
	repo := newTestRepo(t)

	a, _ := repo.CreateChat("", "")
	b, _ := repo.CreateChat("", "")
	require.NoError(t, repo.SetCurrent(a.ID))

	require.NoError(t, repo.ArchiveChat(a.ID))
	assert.Equal(t, b.ID, repo.Current())

	require.NoError(t, repo.DeleteChat(b.ID))
	assert.Equal(t, "", repo.Current())
}

func TestAppendMessageDerivesTitle(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat("", "")
	updated, err := repo.AppendMessage(chat.ID, model.RoleUser, "How do goroutines get scheduled onto threads?", nil)
	require.NoError(t, err)

	require.Len(t, updated.Messages, 1)
	assert.Equal(t, "How do goroutines get schedule…", updated.Title)
}

func TestEditAndDeleteMessageByIndex(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat("", "")
	_, err := repo.AppendMessage(chat.ID, model.RoleUser, "one", nil)
	require.NoError(t, err)
	_, err = repo.AppendMessage(chat.ID, model.RoleAssistant, "two", nil)
	require.NoError(t, err)
	_, err = repo.AppendMessage(chat.ID, model.RoleUser, "three", nil)
	require.NoError(t, err)

	require.NoError(t, repo.EditMessage(chat.ID, 1, "edited"))
	got, err := repo.GetChat(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Messages[1].Content)

	// 删除一条后后续下标前移
	require.NoError(t, repo.DeleteMessage(chat.ID, 1))
	got, err = repo.GetChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "one", got.Messages[0].Content)
	assert.Equal(t, "three", got.Messages[1].Content)

	assert.ErrorIs(t, repo.EditMessage(chat.ID, 5, "x"), ErrMessageIndex)
	assert.ErrorIs(t, repo.DeleteMessage(chat.ID, -1), ErrMessageIndex)
}

func TestCommitReplyRefreshesTitleOnFirstExchange(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat("", "")
	_, err := repo.AppendMessage(chat.ID, model.RoleUser, "Hello", nil)
	require.NoError(t, err)

	reply := &model.Message{ID: model.NewMessageID(), Role: model.RoleAssistant, Content: "Hi there!"}
	require.NoError(t, repo.CommitReply(chat.ID, reply))

	got, err := repo.GetChat(chat.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, model.RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Hello", got.Title)
}

func TestSingleFlightPerChat(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat("", "")

	_, err := repo.BeginStream(chat.ID)
	require.NoError(t, err)

	_, err = repo.BeginStream(chat.ID)
	assert.ErrorIs(t, err, ErrStreamInFlight)

	// 其他会话不受影响
	other, _ := repo.CreateChat("", "")
	_, err = repo.BeginStream(other.ID)
	assert.NoError(t, err)

	repo.EndStream(chat.ID)
	_, err = repo.BeginStream(chat.ID)
	assert.NoError(t, err)
}

func TestBeginStreamRejectsArchivedChat(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat("", "")
	require.NoError(t, repo.ArchiveChat(chat.ID))

	_, err := repo.BeginStream(chat.ID)
	assert.ErrorIs(t, err, ErrChatArchived)
}

func TestRevokeCredentialMigratesBoundChats(t *testing.T) {
	repo := newTestRepo(t)

	active, err := repo.CreateChat(model.ProviderOpenAI, "gpt-4o-mini")
	require.NoError(t, err)
	archived, err := repo.CreateChat(model.ProviderOpenAI, "gpt-4o-mini")
	require.NoError(t, err)
	require.NoError(t, repo.ArchiveChat(archived.ID))
	untouched, err := repo.CreateChat(model.ProviderAnthropic, "")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateCredential(model.ProviderOpenAI, ""))

	// 活跃和归档的绑定会话都迁到剩余提供商及其默认模型
	for _, id := range []string{active.ID, archived.ID} {
		got, err := repo.GetChat(id)
		require.NoError(t, err)
		assert.Equal(t, model.ProviderAnthropic, got.Provider)
		assert.Equal(t, testDefaults.AnthropicAgent, got.Agent)
	}

	got, err := repo.GetChat(untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderAnthropic, got.Provider)

	// 显式切回已吊销的提供商被同步拒绝，原配置保留
	openai := model.ProviderOpenAI
	_, err = repo.UpdateChat(active.ID, &model.UpdateChatRequest{Provider: &openai})
	assert.ErrorIs(t, err, ErrNoCredential)

	got, err = repo.GetChat(active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderAnthropic, got.Provider)
}

func TestGetChatMigratesProviderOnAccess(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init())

	repo := NewRepository(store, testDefaults)
	require.NoError(t, repo.Load())
	require.NoError(t, repo.SeedCredential(model.ProviderOpenAI, "sk-oai-test"))

	// 会话绑定无凭证的主提供商，触达时迁到有凭证的一方
	chat, err := repo.CreateChat(model.ProviderAnthropic, "claude-3-5-haiku-20241022")
	require.NoError(t, err)

	got, err := repo.GetChat(chat.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderOpenAI, got.Provider)
	assert.Equal(t, testDefaults.OpenAIAgent, got.Agent)

	// 迁移已持久化
	stored, err := store.ListChats()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.ProviderOpenAI, stored[0].Provider)
}

func TestUpdateChatConfig(t *testing.T) {
	repo := newTestRepo(t)

	chat, _ := repo.CreateChat(model.ProviderAnthropic, "")

	prompt := "You are terse."
	web := model.WebSearchConfig{Enabled: true, MaxUses: 3}
	thinking := model.ThinkingConfig{Enabled: true, BudgetTokens: 2048}
	updated, err := repo.UpdateChat(chat.ID, &model.UpdateChatRequest{
		SystemPrompt: &prompt,
		WebSearch:    &web,
		Thinking:     &thinking,
	})
	require.NoError(t, err)

	assert.Equal(t, prompt, updated.SystemPrompt)
	assert.Equal(t, web, updated.WebSearch)
	assert.Equal(t, thinking, updated.Thinking)

	// 切换提供商时未指定模型则回到该提供商默认模型
	openai := model.ProviderOpenAI
	updated, err = repo.UpdateChat(chat.ID, &model.UpdateChatRequest{Provider: &openai})
	require.NoError(t, err)
	assert.Equal(t, model.ProviderOpenAI, updated.Provider)
	assert.Equal(t, testDefaults.OpenAIAgent, updated.Agent)
}

func TestLoadRepairsInconsistentState(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init())

	// 构造不一致状态：顺序表含未知ID和重复ID、漏掉一个活跃会话，
	// 一个会话同时出现在两个集合
	chatA := &model.Chat{ID: "01AAA", Title: "a", Provider: model.ProviderAnthropic}
	chatB := &model.Chat{ID: "01BBB", Title: "b", Provider: model.ProviderAnthropic}
	dup := &model.Chat{ID: "01CCC", Title: "dup", Provider: model.ProviderAnthropic}
	require.NoError(t, store.PutChat(chatA))
	require.NoError(t, store.PutChat(chatB))
	require.NoError(t, store.PutChat(dup))
	require.NoError(t, store.PutArchivedChat(dup))

	order, err := model.NewSetting("chat_order", []string{"01AAA", "ghost", "01AAA", "01CCC"})
	require.NoError(t, err)
	require.NoError(t, store.PutSetting(order))

	repo := NewRepository(store, testDefaults)
	require.NoError(t, repo.Load())

	assertInvariants(t, repo)
	assert.ElementsMatch(t, []string{"01AAA", "01BBB", "01CCC"}, repo.Order())

	// 双重成员归属以活跃副本为准
	archived, err := store.ListArchivedChats()
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestPartitionInvariantAcrossLifecycle(t *testing.T) {
	repo := newTestRepo(t)

	a, _ := repo.CreateChat("", "")
	b, _ := repo.CreateChat("", "")
	c, _ := repo.CreateChat("", "")

	steps := []func() error{
		func() error { return repo.ArchiveChat(a.ID) },
		func() error { return repo.ArchiveChat(b.ID) },
		func() error { return repo.UnarchiveChat(a.ID) },
		func() error { return repo.Reorder([]string{c.ID, a.ID}) },
		func() error { return repo.DeleteArchivedChat(b.ID) },
		func() error { return repo.DeleteChat(c.ID) },
		func() error { return repo.UnarchiveChat(a.ID) }, // 已活跃，应报未找到
	}

	for i, step := range steps {
		err := step()
		if i == len(steps)-1 {
			assert.ErrorIs(t, err, storage.ErrChatNotFound)
		} else {
			require.NoError(t, err, "step %d", i)
		}
		assertInvariants(t, repo)
	}
}

func TestPickDefaultProvider(t *testing.T) {
	creds := func(providers ...model.Provider) map[model.Provider]string {
		m := make(map[model.Provider]string)
		for _, p := range providers {
			m[p] = "secret"
		}
		return m
	}

	// 恰好一方有凭证时选它
	assert.Equal(t, model.ProviderAnthropic, PickDefaultProvider(creds(model.ProviderAnthropic)))
	assert.Equal(t, model.ProviderOpenAI, PickDefaultProvider(creds(model.ProviderOpenAI)))
	// 都有或都没有时优先主提供商
	assert.Equal(t, model.ProviderAnthropic, PickDefaultProvider(creds(model.ProviderAnthropic, model.ProviderOpenAI)))
	assert.Equal(t, model.ProviderAnthropic, PickDefaultProvider(creds()))
}
