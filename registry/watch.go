package registry

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// listenerEntry 一个订阅：监听器与其集群过滤条件
type listenerEntry struct {
	listener naming.EventListener
	clusters []string
	key      string // JoinClusters(clusters)
}

// watcher 维护一个 (group, service) 的 etcd watch 与实例快照
//
// 每个服务至多一个 watcher，由监听器与带 Subscribe 的查询共享。
// 监听器只在 mailbox 协程中被串行调用。
type watcher struct {
	r       *Registry
	group   string
	service string
	grouped string
	prefix  string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners []*listenerEntry
	pinned    map[string][]string // clusters key -> clusters
	entries   map[string]instanceEntry
	revision  int64
	lastRef   time.Time

	mailbox *mailbox
}

// Subscribe 订阅服务实例变化
//
// 订阅成功后监听器会先收到一次当前快照，之后每当其关注的集群发生变化时
// 收到变化后的完整实例列表。同一监听器以相同集群重复订阅不会重复通知。
func (r *Registry) Subscribe(ctx context.Context, serviceName string, listener naming.EventListener, opts naming.SubscribeOptions) (err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opSubscribe, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrSubscription, opSubscribe, grouped, cause)
	}

	if err := r.validateSubscription(serviceName, group, listener); err != nil {
		return fail(err)
	}

	if err := r.acquireWatcher(ctx, group, serviceName, func(w *watcher) {
		w.addListener(listener, opts.Clusters)
	}); err != nil {
		return fail(err)
	}

	r.logger.Info("subscribed",
		clog.String("service", grouped),
		clog.Strings("clusters", opts.Clusters))
	return nil
}

// Unsubscribe 取消订阅，listener 与 Clusters 须与订阅时一致；未订阅时直接返回成功
func (r *Registry) Unsubscribe(ctx context.Context, serviceName string, listener naming.EventListener, opts naming.SubscribeOptions) (err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opUnsubscribe, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	if err := r.validateSubscription(serviceName, group, listener); err != nil {
		return naming.NewError(naming.ErrSubscription, opUnsubscribe, grouped, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.watchers[grouped]
	if w == nil {
		return nil
	}
	if w.removeListener(listener, opts.Clusters) {
		delete(r.watchers, grouped)
		w.cancel()
		r.metrics.SetSubscriptions(ctx, len(r.watchers))
		r.logger.Info("watch stopped", clog.String("service", grouped))
	}
	return nil
}

func (r *Registry) validateSubscription(service, group string, listener naming.EventListener) error {
	if r.closed.Load() {
		return naming.ErrClientClosed
	}
	if err := validateName("serviceName", service); err != nil {
		return err
	}
	if err := validateName("groupName", group); err != nil {
		return err
	}
	if listener == nil {
		return &naming.ArgumentError{Field: "listener", Reason: "must not be nil"}
	}
	return nil
}

// pin 为带 Subscribe 的查询建立 watch，直到 Close 才释放
func (r *Registry) pin(ctx context.Context, group, service string, clusters []string) error {
	return r.acquireWatcher(ctx, group, service, func(w *watcher) {
		w.mu.Lock()
		w.pinned[naming.JoinClusters(clusters)] = slices.Clone(clusters)
		w.mu.Unlock()
	})
}

// GetSubscribeServices 返回当前订阅的服务，每个 (group, service, clusters) 一项
func (r *Registry) GetSubscribeServices(ctx context.Context) (out []*naming.ServiceInfo, err error) {
	_, finish := r.begin(ctx, opSubscribedServices, "", "")
	defer func() { finish(err) }()

	if r.closed.Load() {
		return nil, naming.NewError(naming.ErrQuery, opSubscribedServices, "", naming.ErrClientClosed)
	}

	r.mu.Lock()
	watchers := slices.Collect(maps.Values(r.watchers))
	r.mu.Unlock()

	out = []*naming.ServiceInfo{}
	for _, w := range watchers {
		out = append(out, w.serviceInfos()...)
	}
	slices.SortFunc(out, func(a, b *naming.ServiceInfo) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}

// acquireWatcher 取得服务的 watcher 并在持有 r.mu 时执行 attach，
// 不存在时先加载初始快照并启动 watch。attach 与 Unsubscribe 互斥，
// 因此不会挂到一个正在被回收的 watcher 上。
func (r *Registry) acquireWatcher(ctx context.Context, group, service string, attach func(w *watcher)) error {
	grouped := naming.GroupedName(group, service)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return naming.ErrClientClosed
	}
	if w := r.watchers[grouped]; w != nil {
		attach(w)
		return nil
	}

	entries, rev, err := r.load(ctx, group, service)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		r:        r,
		group:    group,
		service:  service,
		grouped:  grouped,
		prefix:   r.keys.servicePrefix(group, service),
		ctx:      wctx,
		cancel:   cancel,
		pinned:   make(map[string][]string),
		entries:  entries,
		revision: rev,
		lastRef:  time.Now(),
		mailbox:  newMailbox(),
	}
	r.watchers[grouped] = w
	r.invalidate(grouped)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		w.mailbox.run(wctx)
	}()
	go func() {
		defer r.wg.Done()
		w.run()
	}()

	attach(w)

	r.metrics.SetSubscriptions(ctx, len(r.watchers))
	r.logger.Info("watch started",
		clog.String("service", grouped),
		clog.Int("instances", len(entries)),
		clog.Int64("revision", rev))
	return nil
}

// addListener 添加监听器并投递当前快照
func (w *watcher) addListener(listener naming.EventListener, clusters []string) {
	key := naming.JoinClusters(clusters)

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range w.listeners {
		if e.listener == listener && e.key == key {
			return
		}
	}
	entry := &listenerEntry{listener: listener, clusters: slices.Clone(clusters), key: key}
	w.listeners = append(w.listeners, entry)
	w.postLocked(entry)
}

// removeListener 移除监听器，返回 watcher 是否已无人使用
func (w *watcher) removeListener(listener naming.EventListener, clusters []string) bool {
	key := naming.JoinClusters(clusters)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.listeners = slices.DeleteFunc(w.listeners, func(e *listenerEntry) bool {
		return e.listener == listener && e.key == key
	})
	return len(w.listeners) == 0 && len(w.pinned) == 0
}

// snapshot 返回全部实例，按 Key 排序
func (w *watcher) snapshot() []*naming.Instance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return sortedInstances(w.entries)
}

func (w *watcher) serviceInfos() []*naming.ServiceInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	subs := make(map[string][]string, len(w.pinned)+len(w.listeners))
	maps.Copy(subs, w.pinned)
	for _, e := range w.listeners {
		subs[e.key] = e.clusters
	}

	all := sortedInstances(w.entries)
	out := make([]*naming.ServiceInfo, 0, len(subs))
	for key, clusters := range subs {
		out = append(out, &naming.ServiceInfo{
			Name:        w.service,
			GroupName:   w.group,
			Clusters:    key,
			Instances:   cloneInstances(naming.FilterClusters(all, clusters)),
			LastRefTime: w.lastRef,
		})
	}
	return out
}

// postLocked 将监听器关注集群的当前实例列表投递到 mailbox，调用方须持有 w.mu
func (w *watcher) postLocked(entry *listenerEntry) {
	event := naming.Event{
		ServiceName: w.service,
		GroupName:   w.group,
		Clusters:    entry.key,
		Instances:   cloneInstances(naming.FilterClusters(sortedInstances(w.entries), entry.clusters)),
	}
	listener := entry.listener
	w.mailbox.post(func() {
		listener.OnEvent(event)
	})
}

// notifyLocked 通知关注了变化集群的监听器，调用方须持有 w.mu
func (w *watcher) notifyLocked(changed map[string]bool) {
	if len(changed) == 0 {
		return
	}
	w.lastRef = time.Now()
	w.r.invalidate(w.grouped)

	for _, e := range w.listeners {
		if affected(e.clusters, changed) {
			w.postLocked(e)
		}
	}
}

func affected(clusters []string, changed map[string]bool) bool {
	if len(clusters) == 0 {
		return true
	}
	for _, c := range clusters {
		if changed[c] {
			return true
		}
	}
	return false
}

// run watch 主循环
// 支持自动重连：当 watch channel 关闭或发生错误时，会自动重连
// 使用 WithRev 从上次处理的位置继续监听，避免事件丢失
func (w *watcher) run() {
	r := w.r
	for {
		w.mu.Lock()
		rev := w.revision
		w.mu.Unlock()

		watchCh := r.client.Watch(clientv3.WithRequireLeader(w.ctx), w.prefix,
			clientv3.WithPrefix(), clientv3.WithRev(rev+1))
		r.logger.Debug("watch connected",
			clog.String("service", w.grouped),
			clog.Int64("from_revision", rev+1))

	innerLoop:
		for {
			select {
			case <-w.ctx.Done():
				return

			case wresp, ok := <-watchCh:
				if !ok {
					r.logger.Warn("watch channel closed, will retry",
						clog.String("service", w.grouped),
						clog.Duration("retry_after", r.cfg.RetryInterval))
					break innerLoop
				}
				if err := wresp.Err(); err != nil {
					if xerrors.Is(err, rpctypes.ErrCompacted) {
						r.logger.Warn("watch revision compacted, resyncing",
							clog.String("service", w.grouped),
							clog.Int64("compact_revision", wresp.CompactRevision))
						w.resync()
					} else {
						r.logger.Error("watch error, will retry",
							clog.String("service", w.grouped),
							clog.Error(err),
							clog.Duration("retry_after", r.cfg.RetryInterval))
					}
					break innerLoop
				}
				w.apply(wresp.Events)
			}
		}

		timer := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// apply 将 watch 事件合并到快照并通知监听器
func (w *watcher) apply(events []*clientv3.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := make(map[string]bool)
	for _, ev := range events {
		if ev.Kv.ModRevision > w.revision {
			w.revision = ev.Kv.ModRevision
		}

		key := string(ev.Kv.Key)
		parts, ok := w.r.keys.parse(key)
		if !ok {
			continue
		}

		switch ev.Type {
		case clientv3.EventTypePut:
			if old, exists := w.entries[key]; exists && old.raw == string(ev.Kv.Value) {
				continue
			}
			inst, ok := w.r.decode(ev.Kv)
			if !ok {
				continue
			}
			w.entries[key] = instanceEntry{instance: inst, raw: string(ev.Kv.Value)}
			changed[parts.cluster] = true

		case clientv3.EventTypeDelete:
			if _, exists := w.entries[key]; exists {
				delete(w.entries, key)
				changed[parts.cluster] = true
			}
		}
	}
	w.notifyLocked(changed)
}

// resync 压缩后全量重读，按差异通知监听器
func (w *watcher) resync() {
	ctx, cancel := context.WithTimeout(w.ctx, w.r.cfg.DefaultTTL)
	defer cancel()

	entries, rev, err := w.r.load(ctx, w.group, w.service)
	if err != nil {
		w.r.logger.Error("failed to resync after compaction",
			clog.String("service", w.grouped),
			clog.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.replaceLocked(entries, rev)
}

// replaceLocked 以全量结果替换快照，按差异通知监听器，调用方须持有 w.mu
func (w *watcher) replaceLocked(entries map[string]instanceEntry, rev int64) {
	changed := make(map[string]bool)
	for key, old := range w.entries {
		if cur, ok := entries[key]; !ok || cur.raw != old.raw {
			changed[old.instance.Cluster()] = true
		}
	}
	for key, cur := range entries {
		if _, ok := w.entries[key]; !ok {
			changed[cur.instance.Cluster()] = true
		}
	}
	w.entries = entries
	w.revision = rev
	w.notifyLocked(changed)
}

// mailbox 无界的串行任务队列，保证监听器按事件顺序被调用且不阻塞 watch
type mailbox struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signal:
		}

		for {
			m.mu.Lock()
			batch := m.queue
			m.queue = nil
			m.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}
