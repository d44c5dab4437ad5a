package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"oauth-gateway/internal/biz"

	"github.com/valkey-io/valkey-go"
)

// valkeyStore Valkey 实现，过期交给服务端 TTL
type valkeyStore struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

// NewValkeyStore 基于已有的 valkey.Client 创建仓库
func NewValkeyStore(client valkey.Client, prefix string) Store {
	return &valkeyStore{client: client, prefix: prefix, now: time.Now}
}

// Put 保存会话，EX 取剩余有效期
func (s *valkeyStore) Put(ctx context.Context, session *biz.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	cmd := s.client.B().Set().Key(s.sessionKey(session.ID)).Value(string(payload)).Ex(s.ttl(session.ExpiresAt)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storing session in Valkey: %w", err)
	}
	return nil
}

// Get 获取会话
func (s *valkeyStore) Get(ctx context.Context, id string) (*biz.Session, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, biz.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session from Valkey: %w", err)
	}

	var session biz.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Delete 删除会话
func (s *valkeyStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.sessionKey(id)).Build()).Error(); err != nil {
		return fmt.Errorf("deleting session from Valkey: %w", err)
	}
	return nil
}

// Save 保存 pending auth
func (s *valkeyStore) Save(ctx context.Context, token string, pending *biz.PendingAuth) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending auth: %w", err)
	}
	cmd := s.client.B().Set().Key(s.pendingKey(token)).Value(string(payload)).Ex(s.ttl(pending.ExpiresAt)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storing pending auth in Valkey: %w", err)
	}
	return nil
}

// Take 用 GETDEL 原子取出并删除
func (s *valkeyStore) Take(ctx context.Context, token string) (*biz.PendingAuth, error) {
	payload, err := s.client.Do(ctx, s.client.B().Getdel().Key(s.pendingKey(token)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, biz.ErrPendingAuthNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking pending auth from Valkey: %w", err)
	}

	var pending biz.PendingAuth
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, fmt.Errorf("decode pending auth: %w", err)
	}
	if !s.now().Before(pending.ExpiresAt) {
		return nil, biz.ErrPendingAuthNotFound
	}
	return &pending, nil
}

// Close 关闭客户端
func (s *valkeyStore) Close() error {
	s.client.Close()
	return nil
}

func (s *valkeyStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *valkeyStore) pendingKey(token string) string {
	return s.prefix + "pending:" + token
}

// ttl 剩余有效期，向上取整到秒（EX 最小为 1 秒）
func (s *valkeyStore) ttl(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return biz.DefaultSessionTTL
	}
	d := expiresAt.Sub(s.now())
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}
