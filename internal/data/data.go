package data

import (
	"fmt"
	"io"
	"time"

	"oauth-gateway/internal/biz"
	"oauth-gateway/internal/conf"

	"github.com/valkey-io/valkey-go"
)

// Store 同时提供会话与 pending auth 存储
type Store interface {
	biz.SessionRepo
	biz.PendingAuthRepo
	io.Closer
}

// NewStore 根据配置选择存储后端
func NewStore(cfg conf.Store, cleanupInterval time.Duration) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cleanupInterval), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, cleanupInterval)
	case "valkey":
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress: cfg.ValkeyAddrs,
		})
		if err != nil {
			return nil, fmt.Errorf("creating Valkey client: %w", err)
		}
		return NewValkeyStore(client, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
