package discovery

import (
	"context"
	"maps"
	"sync"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// Factory 按元数据缓存门面：内容相同的元数据得到同一个门面
//
// 缓存以 Metadata.Fingerprint 为键，命中后再比较完整属性，指纹碰撞时不会复用。
type Factory struct {
	opts *options

	mu      sync.Mutex
	entries map[uint64][]*naming.Delegating
	closed  bool
}

// NewFactory 创建 Factory，选项作用于其创建的全部客户端
func NewFactory(opts ...Option) *Factory {
	return &Factory{
		opts:    applyOptions(opts),
		entries: make(map[uint64][]*naming.Delegating),
	}
}

// Get 返回元数据对应的门面，不存在时创建
//
// 创建过程持有锁，同一元数据的并发调用只会创建一次。
func (f *Factory) Get(ctx context.Context, md *naming.Metadata) (*naming.Delegating, error) {
	if md == nil {
		md = naming.NewMetadata(nil)
	}
	fp := md.Fingerprint()
	props := md.Properties()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, naming.ErrClientClosed
	}

	for _, d := range f.entries[fp] {
		if maps.Equal(d.Metadata().Properties(), props) {
			return d, nil
		}
	}

	d, err := build(ctx, md, f.opts)
	if err != nil {
		return nil, err
	}
	f.entries[fp] = append(f.entries[fp], d)
	return d, nil
}

// Len 返回缓存的门面数量
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, list := range f.entries {
		n += len(list)
	}
	return n
}

// Close 关闭全部门面（及其底层客户端），可重复调用
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	entries := f.entries
	f.entries = nil
	f.mu.Unlock()

	var errs []error
	for _, list := range entries {
		for _, d := range list {
			if err := d.Close(); err != nil {
				f.opts.logger.Warn("failed to close naming client",
					clog.String("metadata", d.Metadata().String()),
					clog.Error(err))
				errs = append(errs, err)
			}
		}
	}
	return xerrors.Combine(errs...)
}
