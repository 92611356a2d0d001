package model

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewChatID 生成会话ID，ULID按创建时间单调递增，字典序即创建顺序
func NewChatID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewMessageID 生成消息ID
func NewMessageID() string {
	return uuid.New().String()
}
