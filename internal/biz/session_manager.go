package biz

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSessionTTL 会话默认有效期
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionOptions 会话生命周期配置
type SessionOptions struct {
	TTL time.Duration
	// BindTokenExpiry 为 true 时会话不会比 access token 活得更久
	BindTokenExpiry bool
}

// SessionManager 独占 Session -> TokenSet 映射
type SessionManager struct {
	repo SessionRepo
	opts SessionOptions
	now  func() time.Time
}

// NewSessionManager 创建 SessionManager
func NewSessionManager(repo SessionRepo, opts SessionOptions) *SessionManager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionTTL
	}
	return &SessionManager{repo: repo, opts: opts, now: time.Now}
}

// Create 为成功换取的令牌创建新会话
func (m *SessionManager) Create(ctx context.Context, providerID string, tokens *TokenSet) (*Session, error) {
	id, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiresAt := now.Add(m.opts.TTL)
	if m.opts.BindTokenExpiry && !tokens.Expiry.IsZero() &&
		tokens.Expiry.After(now) && tokens.Expiry.Before(expiresAt) {
		expiresAt = tokens.Expiry
	}

	session := &Session{
		ID:         id,
		ProviderID: providerID,
		Tokens:     *tokens,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	if err := m.repo.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// Session 返回仍然有效的会话，否则返回 ErrNotSignedIn
func (m *SessionManager) Session(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotSignedIn
	}
	session, err := m.repo.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	// expired rows are left to the repo's own eviction
	if session.Expired(m.now()) {
		return nil, ErrNotSignedIn
	}
	return session, nil
}

// IsSignedIn 会话 id 是否对应一个有效会话
func (m *SessionManager) IsSignedIn(ctx context.Context, id string) bool {
	_, err := m.Session(ctx, id)
	return err == nil
}

// Tokens 返回会话中保存的令牌，无副作用
func (m *SessionManager) Tokens(ctx context.Context, id string) (*TokenSet, error) {
	session, err := m.Session(ctx, id)
	if err != nil {
		return nil, err
	}
	tokens := session.Tokens
	return &tokens, nil
}

// Destroy 删除会话，幂等
func (m *SessionManager) Destroy(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
