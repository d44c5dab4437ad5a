package data

import (
	"context"
	"sync"
	"time"

	"oauth-gateway/internal/biz"
)

// memoryStore 内存实现，sync.Map + 定期清理过期条目
type memoryStore struct {
	sessions sync.Map // map[sessionID]biz.Session
	pending  sync.Map // map[stateToken]biz.PendingAuth
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewMemoryStore 创建内存仓库，interval > 0 时启动后台清理 goroutine
func NewMemoryStore(interval time.Duration) Store {
	s := &memoryStore{
		now:  time.Now,
		stop: make(chan struct{}),
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}
	return s
}

// Put 保存会话（存值拷贝，调用方后续修改不影响仓库）
func (s *memoryStore) Put(_ context.Context, session *biz.Session) error {
	s.sessions.Store(session.ID, *session)
	return nil
}

// Get 获取会话
func (s *memoryStore) Get(_ context.Context, id string) (*biz.Session, error) {
	val, ok := s.sessions.Load(id)
	if !ok {
		return nil, biz.ErrSessionNotFound
	}
	session := val.(biz.Session)

	// Check if expired
	if session.Expired(s.now()) {
		s.sessions.CompareAndDelete(id, val)
		return nil, biz.ErrSessionNotFound
	}
	return &session, nil
}

// Delete 删除会话
func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.sessions.Delete(id)
	return nil
}

// Save 保存 pending auth
func (s *memoryStore) Save(_ context.Context, token string, pending *biz.PendingAuth) error {
	s.pending.Store(token, *pending)
	return nil
}

// Take 原子取出并删除（LoadAndDelete 保证并发下只有一个调用方拿到）
func (s *memoryStore) Take(_ context.Context, token string) (*biz.PendingAuth, error) {
	val, ok := s.pending.LoadAndDelete(token)
	if !ok {
		return nil, biz.ErrPendingAuthNotFound
	}
	pending := val.(biz.PendingAuth)
	if !s.now().Before(pending.ExpiresAt) {
		return nil, biz.ErrPendingAuthNotFound
	}
	return &pending, nil
}

// Close 停止后台清理
func (s *memoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// cleanupLoop runs periodically to remove expired entries
func (s *memoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *memoryStore) cleanup() {
	now := s.now()
	s.sessions.Range(func(key, value any) bool {
		if session := value.(biz.Session); session.Expired(now) {
			s.sessions.CompareAndDelete(key, value)
		}
		return true
	})
	s.pending.Range(func(key, value any) bool {
		if pending := value.(biz.PendingAuth); !now.Before(pending.ExpiresAt) {
			s.pending.CompareAndDelete(key, value)
		}
		return true
	})
}
