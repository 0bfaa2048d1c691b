package coordination

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrKeyExists        = errors.New("coordination key exists")
	ErrKeyNotFound      = errors.New("coordination key not found")
	ErrRevisionMismatch = errors.New("coordination revision mismatch")
	ErrUnavailable      = errors.New("coordination store unavailable")
)

// Entry 带修订号的值，修订号用于条件写
type Entry struct {
	Value    []byte
	Revision uint64
}

// Backend 支持原子条件写的 KV 存储
type Backend interface {
	// Create 仅在 key 不存在时写入，已存在返回 ErrKeyExists
	Create(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) (Entry, error)
	// Update 仅在当前修订号等于 revision 时写入，否则返回 ErrRevisionMismatch
	Update(ctx context.Context, key string, value []byte, revision uint64) error
	Delete(ctx context.Context, key string, revision uint64) error
	Ping(ctx context.Context) error
	Close() error
	Name() string
}
