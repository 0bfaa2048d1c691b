package coordination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// BadgerBackend 嵌入式实现，同一主机上的多个进程不可共享，适合单机多协程部署
type BadgerBackend struct {
	db        *badger.DB
	retention time.Duration
}

// badgerLogger 将 badger 日志转到 zerolog
type badgerLogger struct {
	l zerolog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any) {
	b.l.Error().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Warningf(f string, v ...any) {
	b.l.Warn().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Infof(f string, v ...any) {
	b.l.Debug().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (b badgerLogger) Debugf(f string, v ...any) {
	b.l.Debug().Msg(strings.TrimSpace(fmt.Sprintf(f, v...)))
}

// OpenBadger path 为空时使用内存模式
func OpenBadger(path string, retention time.Duration) (*BadgerBackend, error) {
	if retention <= 0 {
		retention = time.Hour
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogger{l: logger.Component("badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger")
	}
	return &BadgerBackend{db: db, retention: retention}, nil
}

func (b *BadgerBackend) Create(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrKeyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(b.retention))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrKeyExists
	}
	return err
}

func (b *BadgerBackend) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		e.Revision = item.Version()
		e.Value, err = item.ValueCopy(nil)
		return err
	})
	return e, err
}

func (b *BadgerBackend) Update(ctx context.Context, key string, value []byte, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrRevisionMismatch
		}
		if err != nil {
			return err
		}
		if item.Version() != revision {
			return ErrRevisionMismatch
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(b.retention))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrRevisionMismatch
	}
	return err
}

func (b *BadgerBackend) Delete(ctx context.Context, key string, revision uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if item.Version() != revision {
			return ErrRevisionMismatch
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrRevisionMismatch
	}
	return err
}

func (b *BadgerBackend) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func (b *BadgerBackend) Name() string {
	return "badger"
}
