package data

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/conf"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

// testStore 对所有后端运行同一组用例
func testStore(t *testing.T, store Store) {
	t.Run("session round trip", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now()
		session := &biz.Session{
			ID:         "s-" + uuid.NewString(),
			ProviderID: "github",
			Tokens:     biz.TokenSet{AccessToken: "tok1", TokenType: "bearer", Scope: "read:user"},
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		}
		require.NoError(t, store.Put(ctx, session))

		got, err := store.Get(ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, "github", got.ProviderID)
		require.Equal(t, session.Tokens.AccessToken, got.Tokens.AccessToken)
		require.Equal(t, session.Tokens.Scope, got.Tokens.Scope)
		require.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Millisecond)

		require.NoError(t, store.Delete(ctx, session.ID))
		_, err = store.Get(ctx, session.ID)
		require.ErrorIs(t, err, biz.ErrSessionNotFound)

		// 删除不存在的会话不报错
		require.NoError(t, store.Delete(ctx, session.ID))
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := store.Get(context.Background(), "missing-"+uuid.NewString())
		require.ErrorIs(t, err, biz.ErrSessionNotFound)
	})

	t.Run("pending auth is taken once", func(t *testing.T) {
		ctx := context.Background()
		token := "p-" + uuid.NewString()
		now := time.Now()
		pending := &biz.PendingAuth{
			State:        "state-1",
			CodeVerifier: "verifier-1",
			ProviderID:   "discord",
			ReturnTo:     "/after",
			CreatedAt:    now,
			ExpiresAt:    now.Add(time.Minute),
		}
		require.NoError(t, store.Save(ctx, token, pending))

		got, err := store.Take(ctx, token)
		require.NoError(t, err)
		require.Equal(t, "state-1", got.State)
		require.Equal(t, "verifier-1", got.CodeVerifier)
		require.Equal(t, "discord", got.ProviderID)
		require.Equal(t, "/after", got.ReturnTo)

		_, err = store.Take(ctx, token)
		require.ErrorIs(t, err, biz.ErrPendingAuthNotFound)
	})

	t.Run("concurrent take", func(t *testing.T) {
		ctx := context.Background()
		token := "p-" + uuid.NewString()
		require.NoError(t, store.Save(ctx, token, &biz.PendingAuth{
			State:      "s",
			ProviderID: "github",
			ExpiresAt:  time.Now().Add(time.Minute),
		}))

		var (
			wg  sync.WaitGroup
			won atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.Take(ctx, token); err == nil {
					won.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, won.Load())
	})
}

// TestMemoryStore 测试内存后端
func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()
	testStore(t, store)
}

// TestMemoryStore_Expiry 测试过期条目不可见并被清理
func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0).(*memoryStore)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, &biz.Session{ID: "a", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, "p", &biz.PendingAuth{State: "s", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, "q", &biz.PendingAuth{State: "s", ExpiresAt: now.Add(time.Minute)}))

	now = now.Add(2 * time.Minute)
	_, err := s.Get(ctx, "a")
	require.ErrorIs(t, err, biz.ErrSessionNotFound)
	_, err = s.Take(ctx, "p")
	require.ErrorIs(t, err, biz.ErrPendingAuthNotFound)

	s.cleanup()
	_, ok := s.pending.Load("q")
	require.False(t, ok)
}

// TestSQLiteStore 测试 SQLite 后端
func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "sessions.db"), 0)
	require.NoError(t, err)
	defer store.Close()
	testStore(t, store)
}

// TestSQLiteStore_Expiry 测试 SQLite 过期过滤与清理
func TestSQLiteStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), 0)
	require.NoError(t, err)
	s := store.(*sqliteStore)
	defer s.Close()

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(ctx, &biz.Session{ID: "a", ProviderID: "github", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, "p", &biz.PendingAuth{State: "s", ProviderID: "github", ExpiresAt: now.Add(time.Minute)}))

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, biz.ErrSessionNotFound)
	_, err = s.Take(ctx, "p")
	require.ErrorIs(t, err, biz.ErrPendingAuthNotFound)

	s.cleanup(ctx)
	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count))
	require.Zero(t, count)
}

// TestValkeyStore 需要 VALKEY_ADDR，例如 localhost:6379
func TestValkeyStore(t *testing.T) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: strings.Split(addr, ",")})
	require.NoError(t, err)

	store := NewValkeyStore(client, "oauth-gateway-test:"+uuid.NewString()+":")
	defer store.Close()
	testStore(t, store)
}

// TestNewStore 测试按配置选择后端
func TestNewStore(t *testing.T) {
	store, err := NewStore(conf.Store{Driver: "memory"}, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(conf.Store{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewStore(conf.Store{Driver: "etcd"}, 0)
	require.Error(t, err)
}

// TestValkeyStore_TTL 测试 EX 取值
func TestValkeyStore_TTL(t *testing.T) {
	now := time.Now()
	s := &valkeyStore{now: func() time.Time { return now }}

	require.Equal(t, time.Hour, s.ttl(now.Add(time.Hour)))
	require.Equal(t, time.Second, s.ttl(now.Add(100*time.Millisecond)))
	require.Equal(t, time.Second, s.ttl(now.Add(-time.Minute)))
	require.Equal(t, biz.DefaultSessionTTL, s.ttl(time.Time{}))
}

// TestSQLiteStore_CleanupLogsFailure 测试清理失败时记录告警
func TestSQLiteStore_CleanupLogsFailure(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), 0)
	require.NoError(t, err)
	s := store.(*sqliteStore)

	var buf bytes.Buffer
	s.logger = slog.New(slog.NewTextHandler(&buf, nil))
	require.NoError(t, s.Close())

	s.cleanup(context.Background())
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "failed to clean up expired sessions")
	require.Contains(t, buf.String(), "failed to clean up expired pending auths")
}

// TestNewSQLiteStore_SchemaError 测试建表或建索引失败时返回错误
func TestNewSQLiteStore_SchemaError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	db := store.(*sqliteStore).db

	// 同名对象占用索引名
	_, err = db.Exec("DROP INDEX idx_sessions_expires_at")
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE idx_sessions_expires_at (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = NewSQLiteStore(path, 0)
	require.ErrorContains(t, err, "failed to create index")
}
