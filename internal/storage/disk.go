package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"talka-backend/internal/model"
	"talka-backend/pkg/logger"
)

// DiskStore 文件实现：chats/ 与 archived/ 目录下每个会话一个JSON文件，
// settings.json 存放整个settings集合。所有写入先写临时文件再rename。
type DiskStore struct {
	dataDir string
	mu      sync.Mutex
}

func NewDiskStore(dataDir string) *DiskStore {
	return &DiskStore{dataDir: dataDir}
}

func (d *DiskStore) Init() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "chats"),
		filepath.Join(d.dataDir, "archived"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
	}

	logger.Info("Disk store initialized successfully")
	return nil
}

func (d *DiskStore) Close() error {
	return nil
}

func (d *DiskStore) ListChats() ([]*model.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.listCollection("chats")
}

func (d *DiskStore) PutChat(chat *model.Chat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeChat("chats", chat)
}

func (d *DiskStore) DeleteChat(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeChat("chats", id)
}

func (d *DiskStore) ListArchivedChats() ([]*model.Chat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.listCollection("archived")
}

func (d *DiskStore) PutArchivedChat(chat *model.Chat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writeChat("archived", chat)
}

func (d *DiskStore) DeleteArchivedChat(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.removeChat("archived", id)
}

func (d *DiskStore) listCollection(collection string) ([]*model.Chat, error) {
	dir := filepath.Join(d.dataDir, collection)

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	chats := make([]*model.Chat, 0, len(files))
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
		}

		var chat model.Chat
		if err := json.Unmarshal(data, &chat); err != nil {
			// 单个损坏文件跳过，不影响其余会话加载
			logger.Errorf("Failed to decode chat file %s: %v", file.Name(), err)
			continue
		}

		chats = append(chats, &chat)
	}

	return chats, nil
}

func (d *DiskStore) writeChat(collection string, chat *model.Chat) error {
	path := filepath.Join(d.dataDir, collection, chat.ID+".json")

	data, err := json.MarshalIndent(chat, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStore) removeChat(collection, id string) error {
	path := filepath.Join(d.dataDir, collection, id+".json")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrChatNotFound
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func (d *DiskStore) ListSettings() ([]*model.Setting, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.loadSettings()
	if err != nil {
		return nil, err
	}

	settings := make([]*model.Setting, 0, len(values))
	for key, value := range values {
		settings = append(settings, &model.Setting{Key: key, Value: value})
	}

	return settings, nil
}

func (d *DiskStore) PutSetting(setting *model.Setting) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.loadSettings()
	if err != nil {
		return err
	}

	values[setting.Key] = setting.Value
	return d.saveSettings(values)
}

func (d *DiskStore) DeleteSetting(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	values, err := d.loadSettings()
	if err != nil {
		return err
	}

	if _, exists := values[key]; !exists {
		return ErrSettingNotFound
	}

	delete(values, key)
	return d.saveSettings(values)
}

func (d *DiskStore) loadSettings() (map[string]json.RawMessage, error) {
	path := filepath.Join(d.dataDir, "settings.json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	values := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	return values, nil
}

func (d *DiskStore) saveSettings(values map[string]json.RawMessage) error {
	path := filepath.Join(d.dataDir, "settings.json")

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	return nil
}

func atomicWrite(path string, data []byte) error {
	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	if err := os.Rename(tempPath, path); err != nil {
		// rename失败时清理残留的临时文件
		if strings.HasSuffix(tempPath, ".tmp") {
			os.Remove(tempPath)
		}
		return err
	}

	return nil
}
