package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"talka-backend/internal/model"
	"talka-backend/internal/storage"
	"talka-backend/pkg/logger"
)

const (
	settingChatOrder   = "chat_order"
	settingCurrentChat = "current_chat"
	settingCredPrefix  = "credential:"

	defaultChatTitle = "New Chat"
)

// Repository 会话仓库：持久存储在内存中的镜像，也是存储的唯一写入方。
// 每个写操作都等待存储落盘后才更新镜像并返回；跨集合操作是
// 三次独立写入，中途失败的后果见各方法注释。
type Repository struct {
	mu       sync.RWMutex
	store    storage.Store
	defaults Defaults

	active   map[string]*model.Chat
	archived map[string]*model.Chat
	order    []string
	current  string
	creds    map[model.Provider]string
	inflight map[string]struct{}

	// 会话列表变化后的渲染回调，核心只负责调用
	onChange func()
}

func NewRepository(store storage.Store, defaults Defaults) *Repository {
	return &Repository{
		store:    store,
		defaults: defaults,
		active:   make(map[string]*model.Chat),
		archived: make(map[string]*model.Chat),
		creds:    make(map[model.Provider]string),
		inflight: make(map[string]struct{}),
	}
}

// SetOnChange 注册会话列表变化回调
func (r *Repository) SetOnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Repository) notifyChange() {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()

	if fn != nil {
		fn()
	}
}

// Load 从存储加载两个集合与设置，并做一次幂等修复：
// 顺序表去掉未知和重复ID、补上缺失的活跃会话，
// 同时出现在两个集合的会话以活跃副本为准。
func (r *Repository) Load() error {
	chats, err := r.store.ListChats()
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}

	archived, err := r.store.ListArchivedChats()
	if err != nil {
		return fmt.Errorf("load archived chats: %w", err)
	}

	settings, err := r.store.ListSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, chat := range chats {
		r.active[chat.ID] = chat
	}
	for _, chat := range archived {
		if _, dup := r.active[chat.ID]; dup {
			logger.Warnf("Chat %s present in both collections, keeping active copy", chat.ID)
			if err := r.store.DeleteArchivedChat(chat.ID); err != nil {
				logger.Errorf("Failed to drop duplicated archived chat %s: %v", chat.ID, err)
			}
			continue
		}
		r.archived[chat.ID] = chat
	}

	for _, setting := range settings {
		switch {
		case setting.Key == settingChatOrder:
			var order []string
			if err := json.Unmarshal(setting.Value, &order); err != nil {
				logger.Errorf("Failed to decode chat order: %v", err)
				continue
			}
			r.order = order
		case setting.Key == settingCurrentChat:
			var current string
			if err := json.Unmarshal(setting.Value, &current); err != nil {
				continue
			}
			r.current = current
		case strings.HasPrefix(setting.Key, settingCredPrefix):
			provider := model.Provider(strings.TrimPrefix(setting.Key, settingCredPrefix))
			var secret string
			if err := json.Unmarshal(setting.Value, &secret); err != nil {
				continue
			}
			if provider.Valid() && secret != "" {
				r.creds[provider] = secret
			}
		}
	}

	if repaired := r.repairOrderLocked(); repaired {
		if err := r.persistOrderLocked(); err != nil {
			return err
		}
	}

	if r.current != "" {
		if _, ok := r.active[r.current]; !ok {
			if _, ok := r.archived[r.current]; !ok {
				r.current = ""
			}
		}
	}

	logger.Infof("Session repository loaded: %d active, %d archived", len(r.active), len(r.archived))
	return nil
}

// repairOrderLocked 把顺序表修成活跃会话ID的排列，返回是否有改动
func (r *Repository) repairOrderLocked() bool {
	seen := make(map[string]struct{}, len(r.order))
	cleaned := make([]string, 0, len(r.active))

	for _, id := range r.order {
		if _, ok := r.active[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cleaned = append(cleaned, id)
	}

	var missing []string
	for id := range r.active {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	// 会话ID按创建时间排序，缺失的补在前面且新的在先
	sort.Sort(sort.Reverse(sort.StringSlice(missing)))
	cleaned = append(missing, cleaned...)

	changed := len(cleaned) != len(r.order)
	if !changed {
		for i := range cleaned {
			if cleaned[i] != r.order[i] {
				changed = true
				break
			}
		}
	}

	r.order = cleaned
	return changed
}

// SeedCredential 仅在该提供商尚无凭证时写入（用于配置/环境变量注入）
func (r *Repository) SeedCredential(provider model.Provider, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if secret == "" || !provider.Valid() {
		return nil
	}
	if _, exists := r.creds[provider]; exists {
		return nil
	}

	if err := r.persistCredentialLocked(provider, secret); err != nil {
		return err
	}
	r.creds[provider] = secret
	return nil
}

// CreateChat 新建会话：插入活跃集合并置于顺序表头部
func (r *Repository) CreateChat(provider model.Provider, agent string) (*model.Chat, error) {
	r.mu.Lock()

	if provider == "" {
		provider = PickDefaultProvider(r.creds)
	}
	if !provider.Valid() {
		r.mu.Unlock()
		return nil, ErrUnknownProvider
	}
	if agent == "" {
		agent = r.defaults.AgentFor(provider)
	}

	now := time.Now()
	chat := &model.Chat{
		ID:        model.NewChatID(),
		Title:     defaultChatTitle,
		Messages:  []model.Message{},
		Provider:  provider,
		Agent:     agent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.PutChat(chat); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.active[chat.ID] = chat

	r.order = append([]string{chat.ID}, r.order...)
	if err := r.persistOrderLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	result := chat.Clone()
	r.mu.Unlock()

	r.notifyChange()
	return result, nil
}

// ArchiveChat 归档：三次独立写入（写归档副本、删活跃副本、存新顺序）。
// 中途失败可能让会话短暂同时出现在两个集合，加载时的修复会收敛。
func (r *Repository) ArchiveChat(id string) error {
	r.mu.Lock()

	chat, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return storage.ErrChatNotFound
	}

	if err := r.store.PutArchivedChat(chat); err != nil {
		r.mu.Unlock()
		return err
	}
	r.archived[id] = chat

	if err := r.store.DeleteChat(id); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.active, id)

	r.removeFromOrderLocked(id)
	if err := r.persistOrderLocked(); err != nil {
		r.mu.Unlock()
		return err
	}

	if err := r.fallbackCurrentLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

// UnarchiveChat 归档的逆操作，恢复后置于顺序表头部并选中
func (r *Repository) UnarchiveChat(id string) error {
	r.mu.Lock()

	chat, ok := r.archived[id]
	if !ok {
		r.mu.Unlock()
		return storage.ErrChatNotFound
	}

	if err := r.store.PutChat(chat); err != nil {
		r.mu.Unlock()
		return err
	}
	r.active[id] = chat

	if err := r.store.DeleteArchivedChat(id); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.archived, id)

	r.order = append([]string{id}, r.order...)
	if err := r.persistOrderLocked(); err != nil {
		r.mu.Unlock()
		return err
	}

	if err := r.setCurrentLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

// DeleteChat 永久删除活跃会话
func (r *Repository) DeleteChat(id string) error {
	r.mu.Lock()

	if _, ok := r.active[id]; !ok {
		r.mu.Unlock()
		return storage.ErrChatNotFound
	}

	if err := r.store.DeleteChat(id); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.active, id)

	r.removeFromOrderLocked(id)
	if err := r.persistOrderLocked(); err != nil {
		r.mu.Unlock()
		return err
	}

	if err := r.fallbackCurrentLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

// DeleteArchivedChat 永久删除归档会话
func (r *Repository) DeleteArchivedChat(id string) error {
	r.mu.Lock()

	if _, ok := r.archived[id]; !ok {
		r.mu.Unlock()
		return storage.ErrChatNotFound
	}

	if err := r.store.DeleteArchivedChat(id); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.archived, id)

	if r.current == id {
		r.current = ""
		if err := r.persistCurrentLocked(); err != nil {
			r.mu.Unlock()
			return err
		}
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

// Reorder 整体替换显示顺序，必须是当前活跃会话ID的排列
func (r *Repository) Reorder(newOrder []string) error {
	r.mu.Lock()

	if len(newOrder) != len(r.active) {
		r.mu.Unlock()
		return ErrBadOrder
	}
	seen := make(map[string]struct{}, len(newOrder))
	for _, id := range newOrder {
		if _, ok := r.active[id]; !ok {
			r.mu.Unlock()
			return ErrBadOrder
		}
		if _, dup := seen[id]; dup {
			r.mu.Unlock()
			return ErrBadOrder
		}
		seen[id] = struct{}{}
	}

	r.order = append([]string(nil), newOrder...)
	if err := r.persistOrderLocked(); err != nil {
		r.mu.Unlock()
		return err
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

// GetChat 先查活跃集合再查归档集合，返回深拷贝。
// 访问时若绑定的提供商已无凭证且另一方有，则顺带迁移。
func (r *Repository) GetChat(id string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	if err := r.ensureProviderLocked(chat); err != nil {
		return nil, err
	}

	return chat.Clone(), nil
}

// List 会话列表：活跃会话按显示顺序，归档会话按更新时间倒序
func (r *Repository) List() *model.ChatListResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := &model.ChatListResponse{
		Chats:         make([]model.ChatSummary, 0, len(r.active)),
		ArchivedChats: make([]model.ChatSummary, 0, len(r.archived)),
		CurrentChatID: r.current,
	}

	for _, id := range r.order {
		if chat, ok := r.active[id]; ok {
			resp.Chats = append(resp.Chats, summarize(chat, false))
		}
	}

	for _, chat := range r.archived {
		resp.ArchivedChats = append(resp.ArchivedChats, summarize(chat, true))
	}
	sort.Slice(resp.ArchivedChats, func(i, j int) bool {
		return resp.ArchivedChats[i].UpdatedAt.After(resp.ArchivedChats[j].UpdatedAt)
	})

	return resp
}

func summarize(chat *model.Chat, archived bool) model.ChatSummary {
	return model.ChatSummary{
		ID:           chat.ID,
		Title:        chat.Title,
		Provider:     chat.Provider,
		Agent:        chat.Agent,
		Archived:     archived,
		MessageCount: len(chat.Messages),
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
}

// SetCurrent 切换当前会话指针并持久化
func (r *Repository) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, _, err := r.lookupLocked(id); err != nil {
		return err
	}

	return r.setCurrentLocked(id)
}

// Current 当前会话ID，可能为空
func (r *Repository) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Order 当前显示顺序的副本
func (r *Repository) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Credential 某提供商的凭证
func (r *Repository) Credential(provider model.Provider) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	secret, ok := r.creds[provider]
	return secret, ok
}

// UpdateCredential 设置或清除凭证。清除后所有绑定该提供商的会话
// （活跃与归档）立即迁移到默认提供商及其默认模型，并逐个持久化。
func (r *Repository) UpdateCredential(provider model.Provider, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !provider.Valid() {
		return ErrUnknownProvider
	}

	if secret != "" {
		if err := r.persistCredentialLocked(provider, secret); err != nil {
			return err
		}
		r.creds[provider] = secret
		return nil
	}

	if err := r.store.DeleteSetting(settingCredPrefix + string(provider)); err != nil &&
		err != storage.ErrSettingNotFound {
		return err
	}
	delete(r.creds, provider)

	target := PickDefaultProvider(r.creds)
	if target == provider {
		// 没有可迁移的目标，留待凭证恢复
		return nil
	}

	for _, chat := range r.active {
		if chat.Provider != provider {
			continue
		}
		r.migrateLocked(chat, target)
		if err := r.store.PutChat(chat); err != nil {
			return err
		}
	}
	for _, chat := range r.archived {
		if chat.Provider != provider {
			continue
		}
		r.migrateLocked(chat, target)
		if err := r.store.PutArchivedChat(chat); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repository) migrateLocked(chat *model.Chat, target model.Provider) {
	logger.Infof("Migrating chat %s from %s to %s", chat.ID, chat.Provider, target)
	chat.Provider = target
	chat.Agent = r.defaults.AgentFor(target)
	chat.UpdatedAt = time.Now()
}

// ensureProviderLocked 被触达的会话若绑定了无凭证的提供商，
// 且存在有凭证的另一方，则迁移过去并持久化
func (r *Repository) ensureProviderLocked(chat *model.Chat) error {
	if _, ok := r.creds[chat.Provider]; ok {
		return nil
	}

	target := PickDefaultProvider(r.creds)
	if target == chat.Provider {
		return nil
	}
	if _, ok := r.creds[target]; !ok {
		return nil
	}

	r.migrateLocked(chat, target)
	return r.persistChatLocked(chat)
}

// UpdateChat 会话配置更新。显式切到无凭证的提供商会在任何
// 改动发生前被拒绝，原配置保持不变。
func (r *Repository) UpdateChat(id string, req *model.UpdateChatRequest) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	if req.Provider != nil && *req.Provider != chat.Provider {
		if !req.Provider.Valid() {
			return nil, ErrUnknownProvider
		}
		if _, ok := r.creds[*req.Provider]; !ok {
			return nil, ErrNoCredential
		}
	}

	if req.Provider != nil && *req.Provider != chat.Provider {
		chat.Provider = *req.Provider
		if req.Agent == nil {
			chat.Agent = r.defaults.AgentFor(chat.Provider)
		}
	}
	if req.Agent != nil {
		chat.Agent = *req.Agent
	}
	if req.Title != nil {
		chat.Title = *req.Title
	}
	if req.SystemPrompt != nil {
		chat.SystemPrompt = *req.SystemPrompt
	}
	if req.WebSearch != nil {
		chat.WebSearch = *req.WebSearch
	}
	if req.Thinking != nil {
		chat.Thinking = *req.Thinking
	}
	chat.UpdatedAt = time.Now()

	if err := r.persistChatLocked(chat); err != nil {
		return nil, err
	}

	return chat.Clone(), nil
}

// AppendMessage 直接插入一条消息；产生首条消息时推导标题
func (r *Repository) AppendMessage(id string, role model.Role, content string, attachment *model.Attachment) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !role.Valid() {
		return nil, fmt.Errorf("%w: invalid role %q", storage.ErrInvalidData, role)
	}

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		return nil, err
	}

	msg := model.Message{
		ID:         model.NewMessageID(),
		Role:       role,
		Content:    content,
		Attachment: attachment,
		Timestamp:  time.Now(),
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = msg.Timestamp

	if len(chat.Messages) == 1 {
		chat.Title = model.DeriveTitle(chat.Messages[0].Content)
	}

	if err := r.persistChatLocked(chat); err != nil {
		// 写入失败视为未生效，回滚镜像
		chat.Messages = chat.Messages[:len(chat.Messages)-1]
		return nil, err
	}

	return chat.Clone(), nil
}

// EditMessage 按下标就地替换消息内容
func (r *Repository) EditMessage(id string, index int, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		return err
	}

	if index < 0 || index >= len(chat.Messages) {
		return ErrMessageIndex
	}

	previous := chat.Messages[index].Content
	chat.Messages[index].Content = content
	chat.UpdatedAt = time.Now()

	if err := r.persistChatLocked(chat); err != nil {
		chat.Messages[index].Content = previous
		return err
	}

	return nil
}

// DeleteMessage 删除一条消息，后续下标前移
func (r *Repository) DeleteMessage(id string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		return err
	}

	if index < 0 || index >= len(chat.Messages) {
		return ErrMessageIndex
	}

	removed := chat.Messages[index]
	chat.Messages = append(chat.Messages[:index], chat.Messages[index+1:]...)
	chat.UpdatedAt = time.Now()

	if err := r.persistChatLocked(chat); err != nil {
		chat.Messages = append(chat.Messages[:index],
			append([]model.Message{removed}, chat.Messages[index:]...)...)
		return err
	}

	return nil
}

// BeginStream 标记会话进入流式发送。同一会话同时只允许一个在途流，
// 重复发送被同步拒绝。返回的快照已包含可能的提供商迁移。
func (r *Repository) BeginStream(id string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.active[id]
	if !ok {
		if _, archived := r.archived[id]; archived {
			return nil, ErrChatArchived
		}
		return nil, storage.ErrChatNotFound
	}

	if _, busy := r.inflight[id]; busy {
		return nil, ErrStreamInFlight
	}

	if err := r.ensureProviderLocked(chat); err != nil {
		return nil, err
	}

	r.inflight[id] = struct{}{}
	return chat.Clone(), nil
}

// EndStream 解除在途标记
func (r *Repository) EndStream(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

// CommitReply 流COMPLETE时的唯一一次落盘：把组装完成的助手消息
// 追加进会话并持久化；首次问答完成时刷新标题。
func (r *Repository) CommitReply(id string, reply *model.Message) error {
	r.mu.Lock()

	chat, _, err := r.lookupLocked(id)
	if err != nil {
		r.mu.Unlock()
		return err
	}

	chat.Messages = append(chat.Messages, *reply.Clone())
	chat.UpdatedAt = time.Now()

	if len(chat.Messages) == 2 {
		chat.Title = model.DeriveTitle(chat.Messages[0].Content)
	}

	if err := r.persistChatLocked(chat); err != nil {
		chat.Messages = chat.Messages[:len(chat.Messages)-1]
		r.mu.Unlock()
		return err
	}

	r.mu.Unlock()
	r.notifyChange()
	return nil
}

func (r *Repository) lookupLocked(id string) (*model.Chat, bool, error) {
	if chat, ok := r.active[id]; ok {
		return chat, false, nil
	}
	if chat, ok := r.archived[id]; ok {
		return chat, true, nil
	}
	return nil, false, storage.ErrChatNotFound
}

func (r *Repository) persistChatLocked(chat *model.Chat) error {
	if _, ok := r.active[chat.ID]; ok {
		return r.store.PutChat(chat)
	}
	return r.store.PutArchivedChat(chat)
}

func (r *Repository) removeFromOrderLocked(id string) {
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// fallbackCurrentLocked 当前会话被移走后退到顺序表头部
func (r *Repository) fallbackCurrentLocked(removed string) error {
	if r.current != removed {
		return nil
	}

	next := ""
	if len(r.order) > 0 {
		next = r.order[0]
	}
	return r.setCurrentLocked(next)
}

func (r *Repository) setCurrentLocked(id string) error {
	setting, err := model.NewSetting(settingCurrentChat, id)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidData, err)
	}
	if err := r.store.PutSetting(setting); err != nil {
		return err
	}

	r.current = id
	return nil
}

func (r *Repository) persistCurrentLocked() error {
	return r.setCurrentLocked(r.current)
}

func (r *Repository) persistOrderLocked() error {
	setting, err := model.NewSetting(settingChatOrder, r.order)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidData, err)
	}
	return r.store.PutSetting(setting)
}

func (r *Repository) persistCredentialLocked(provider model.Provider, secret string) error {
	setting, err := model.NewSetting(settingCredPrefix+string(provider), secret)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidData, err)
	}
	return r.store.PutSetting(setting)
}
