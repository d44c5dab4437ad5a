package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"oauth-gateway/internal/biz"

	_ "modernc.org/sqlite"
)

// sqliteStore SQLite 实现的会话与 pending auth 仓库
type sqliteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
	stop   chan struct{}
	once   sync.Once
}

// NewSQLiteStore 创建 SQLite 仓库，interval > 0 时定期清理过期行
func NewSQLiteStore(dbPath string, interval time.Duration) (Store, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 单连接串行化写入，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// 创建 sessions 表
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			session_data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sessions table: %w", err)
	}

	// 创建 pending_auths 表
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_auths (
			token TEXT PRIMARY KEY,
			provider_id TEXT NOT NULL,
			pending_data TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pending_auths table: %w", err)
	}

	// 创建索引
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_pending_auths_expires_at ON pending_auths(expires_at)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
	}

	s := &sqliteStore{db: db, now: time.Now, logger: slog.Default(), stop: make(chan struct{})}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}
	return s, nil
}

// Put 保存会话
func (s *sqliteStore) Put(ctx context.Context, session *biz.Session) error {
	sessionData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, provider_id, session_data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		session.ID, session.ProviderID, string(sessionData), session.CreatedAt.UnixMilli(), expiryMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get 获取未过期的会话
func (s *sqliteStore) Get(ctx context.Context, id string) (*biz.Session, error) {
	var sessionData string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_data FROM sessions WHERE id = ? AND expires_at > ?",
		id, s.now().UnixMilli(),
	).Scan(&sessionData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, biz.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	var session biz.Session
	if err := json.Unmarshal([]byte(sessionData), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Delete 删除会话
func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Save 保存 pending auth
func (s *sqliteStore) Save(ctx context.Context, token string, pending *biz.PendingAuth) error {
	pendingData, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending auth: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO pending_auths (token, provider_id, pending_data, expires_at) VALUES (?, ?, ?, ?)",
		token, pending.ProviderID, string(pendingData), pending.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert pending auth: %w", err)
	}
	return nil
}

// Take 用 DELETE ... RETURNING 原子取出并删除
func (s *sqliteStore) Take(ctx context.Context, token string) (*biz.PendingAuth, error) {
	var (
		pendingData string
		expiresAt   int64
	)
	err := s.db.QueryRowContext(ctx,
		"DELETE FROM pending_auths WHERE token = ? RETURNING pending_data, expires_at",
		token,
	).Scan(&pendingData, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, biz.ErrPendingAuthNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take pending auth: %w", err)
	}
	if expiresAt <= s.now().UnixMilli() {
		return nil, biz.ErrPendingAuthNotFound
	}

	var pending biz.PendingAuth
	if err := json.Unmarshal([]byte(pendingData), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending auth: %w", err)
	}
	return &pending, nil
}

// Close 关闭仓库连接
func (s *sqliteStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return s.db.Close()
}

func (s *sqliteStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.cleanup(context.Background())
		}
	}
}

func (s *sqliteStore) cleanup(ctx context.Context) {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now); err != nil {
		s.logger.WarnContext(ctx, "failed to clean up expired sessions", "error", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM pending_auths WHERE expires_at <= ?", now); err != nil {
		s.logger.WarnContext(ctx, "failed to clean up expired pending auths", "error", err)
	}
}

// expiryMillis 零值过期时间视为永不过期
func expiryMillis(t time.Time) int64 {
	if t.IsZero() {
		return 1<<63 - 1
	}
	return t.UnixMilli()
}
