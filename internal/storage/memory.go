package storage

import (
	"sync"

	"talka-backend/internal/model"
)

// MemoryStore 内存实现，写入和读出都做深拷贝，
// 避免调用方持有的指针与存储内容互相串改。
type MemoryStore struct {
	chats    map[string]*model.Chat
	archived map[string]*model.Chat
	settings map[string]*model.Setting
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*model.Chat),
		archived: make(map[string]*model.Chat),
		settings: make(map[string]*model.Setting),
	}
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) ListChats() ([]*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*model.Chat, 0, len(m.chats))
	for _, chat := range m.chats {
		chats = append(chats, chat.Clone())
	}

	return chats, nil
}

func (m *MemoryStore) PutChat(chat *model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.chats[chat.ID] = chat.Clone()
	return nil
}

func (m *MemoryStore) DeleteChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.chats[id]; !exists {
		return ErrChatNotFound
	}

	delete(m.chats, id)
	return nil
}

func (m *MemoryStore) ListArchivedChats() ([]*model.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*model.Chat, 0, len(m.archived))
	for _, chat := range m.archived {
		chats = append(chats, chat.Clone())
	}

	return chats, nil
}

func (m *MemoryStore) PutArchivedChat(chat *model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.archived[chat.ID] = chat.Clone()
	return nil
}

func (m *MemoryStore) DeleteArchivedChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.archived[id]; !exists {
		return ErrChatNotFound
	}

	delete(m.archived, id)
	return nil
}

func (m *MemoryStore) ListSettings() ([]*model.Setting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	settings := make([]*model.Setting, 0, len(m.settings))
	for _, setting := range m.settings {
		copied := *setting
		settings = append(settings, &copied)
	}

	return settings, nil
}

func (m *MemoryStore) PutSetting(setting *model.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *setting
	m.settings[setting.Key] = &copied
	return nil
}

func (m *MemoryStore) DeleteSetting(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.settings[key]; !exists {
		return ErrSettingNotFound
	}

	delete(m.settings, key)
	return nil
}
