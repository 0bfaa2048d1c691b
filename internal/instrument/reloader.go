package instrument

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Reloader 定期检查合约文件，文件变化时热加载
// 文件中消失的合约保留 removeGrace 后才移除，避免在途信号找不到合约
type Reloader struct {
	catalog     *Catalog
	path        string
	interval    time.Duration
	removeGrace time.Duration

	mu            sync.Mutex
	lastMod       time.Time
	fileItems     map[string]Instrument
	pendingRemove map[string]time.Time // 待移除合约 -> 发现消失的时间

	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// SyncResult 一次同步的变化
type SyncResult struct {
	Reloaded bool
	Added    []string
	Updated  []string
	Removed  []string
	Pending  int
}

func NewReloader(catalog *Catalog, path string, interval, removeGrace time.Duration) *Reloader {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reloader{
		catalog:       catalog,
		path:          path,
		interval:      interval,
		removeGrace:   removeGrace,
		fileItems:     catalog.snapshot(),
		pendingRemove: make(map[string]time.Time),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
	}
	if info, err := os.Stat(path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r
}

// Start 启动定期重载
func (r *Reloader) Start() {
	goplus.Go(func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Sync(); err != nil {
					logger.Error().Err(err).Str("file", r.path).Msg("instruments reload failed")
				}
			}
		}
	})
}

// Stop 停止重载
func (r *Reloader) Stop() {
	r.cancel()
}

// Sync 文件未变化且没有待移除合约时直接返回
func (r *Reloader) Sync() (SyncResult, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		return SyncResult{}, errors.Wrapf(err, "stat instruments file %s", r.path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var res SyncResult
	if info.ModTime().After(r.lastMod) {
		loaded, err := Load(r.path)
		if err != nil {
			// 解析失败保留旧目录
			return res, err
		}
		r.lastMod = info.ModTime()
		r.fileItems = loaded.snapshot()
		res.Reloaded = true
	} else if len(r.pendingRemove) == 0 {
		return res, nil
	}

	now := r.now()
	current := r.catalog.snapshot()
	next := make(map[string]Instrument, len(r.fileItems))

	for sym, inst := range r.fileItems {
		next[sym] = inst
		old, ok := current[sym]
		switch {
		case !ok:
			res.Added = append(res.Added, sym)
		case !old.Equal(inst):
			res.Updated = append(res.Updated, sym)
		}
		// 合约恢复
		delete(r.pendingRemove, sym)
	}

	for sym, inst := range current {
		if _, ok := r.fileItems[sym]; ok {
			continue
		}
		since, pending := r.pendingRemove[sym]
		if !pending {
			since = now
			r.pendingRemove[sym] = now
		}
		if now.Sub(since) >= r.removeGrace {
			delete(r.pendingRemove, sym)
			res.Removed = append(res.Removed, sym)
			continue
		}
		next[sym] = inst
	}
	res.Pending = len(r.pendingRemove)

	r.catalog.Replace(&Catalog{items: next})

	sort.Strings(res.Added)
	sort.Strings(res.Updated)
	sort.Strings(res.Removed)
	logger.Info().
		Int("total", len(next)).
		Strs("added", res.Added).
		Strs("updated", res.Updated).
		Strs("removed", res.Removed).
		Int("pending_remove", res.Pending).
		Msg("instruments sync completed")
	return res, nil
}
