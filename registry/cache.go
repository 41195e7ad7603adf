package registry

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// instanceCache 按 group@@service 缓存实例列表
//
// 每个键带一个代数，invalidate 使代数加一。加载前通过 generation 取得代数，
// 加载完成后 set 仅在代数未变时写入，加载期间发生的写操作不会被旧结果覆盖。
type instanceCache struct {
	store *otter.Cache[string, []*naming.Instance]

	mu   sync.Mutex
	gens map[string]uint64
}

func newInstanceCache(capacity int, expiration time.Duration) (*instanceCache, error) {
	store, err := otter.New(&otter.Options[string, []*naming.Instance]{
		MaximumSize:      capacity,
		ExpiryCalculator: otter.ExpiryWriting[string, []*naming.Instance](expiration),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to build otter cache")
	}
	return &instanceCache{store: store, gens: make(map[string]uint64)}, nil
}

func (c *instanceCache) get(key string) ([]*naming.Instance, bool) {
	return c.store.GetIfPresent(key)
}

// generation 返回键的当前代数，须在开始加载前调用
func (c *instanceCache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[key]
}

// set 在代数仍为 gen 时写入，返回是否写入
func (c *instanceCache) set(key string, gen uint64, list []*naming.Instance) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return false
	}
	c.store.Set(key, list)
	return true
}

func (c *instanceCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[key]++
	c.store.Invalidate(key)
}

func (c *instanceCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.gens)
	c.store.InvalidateAll()
}
