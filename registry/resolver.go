package registry

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/naming"
)

// Scheme 默认的 gRPC resolver scheme
const Scheme = "naming"

// ResolverOption resolver 选项
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	scheme      string
	logger      clog.Logger
	timeout     time.Duration
	minInterval time.Duration
}

// WithScheme 设置 resolver scheme，默认 "naming"
func WithScheme(scheme string) ResolverOption {
	return func(o *resolverOptions) {
		if scheme != "" {
			o.scheme = scheme
		}
	}
}

// WithResolverLogger 注入日志记录器
func WithResolverLogger(l clog.Logger) ResolverOption {
	return func(o *resolverOptions) {
		if l != nil {
			o.logger = l.WithNamespace("resolver")
		}
	}
}

// WithResolveTimeout 设置订阅与查询的超时，默认 5s
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(o *resolverOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithResolveInterval 设置 ResolveNow 触发全量查询的最小间隔，默认 1s
//
// 间隔内的多余调用被丢弃，订阅推送不受影响。
func WithResolveInterval(d time.Duration) ResolverOption {
	return func(o *resolverOptions) {
		if d > 0 {
			o.minInterval = d
		}
	}
}

// resolverBuilder 基于任意 naming.Client 的 resolver.Builder
type resolverBuilder struct {
	client naming.Client
	opts   resolverOptions
}

// NewResolverBuilder 创建 resolver builder
//
// 目标格式为 naming:///<service>?group=<group>&clusters=<c1,c2>，
// 解析结果为健康、启用且权重为正的实例地址。client 可以是门面 naming.Delegating。
func NewResolverBuilder(client naming.Client, opts ...ResolverOption) resolver.Builder {
	o := resolverOptions{
		scheme:      Scheme,
		logger:      clog.Discard(),
		timeout:     5 * time.Second,
		minInterval: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &resolverBuilder{client: client, opts: o}
}

// Target 构造默认 scheme 下的 resolver 目标
func Target(service, group string, clusters []string) string {
	return buildTarget(Scheme, service, group, clusters)
}

func buildTarget(scheme, service, group string, clusters []string) string {
	q := url.Values{}
	if group != "" {
		q.Set("group", group)
	}
	if c := naming.JoinClusters(clusters); c != "" {
		q.Set("clusters", c)
	}
	u := url.URL{Scheme: scheme, Path: "/" + service, RawQuery: q.Encode()}
	return u.String()
}

// Build 创建 resolver 并订阅服务变化
func (b *resolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	service := target.Endpoint()
	if service == "" {
		service = target.URL.Host
	}
	query := target.URL.Query()
	group := query.Get("group")
	clusters := naming.SplitClusters(query.Get("clusters"))

	ctx, cancel := context.WithCancel(context.Background())
	r := &namingResolver{
		client:   b.client,
		cc:       cc,
		logger:   b.opts.logger,
		timeout:  b.opts.timeout,
		service:  service,
		group:    group,
		clusters: clusters,
		grouped:  naming.GroupedName(group, service),
		limiter:  rate.NewLimiter(rate.Every(b.opts.minInterval), 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.listener = naming.NewListener(r.onEvent)

	subCtx, subCancel := context.WithTimeout(ctx, r.timeout)
	defer subCancel()
	if err := b.client.Subscribe(subCtx, service, r.listener, r.subscribeOptions()); err != nil {
		cancel()
		return nil, err
	}

	// 不是所有 Client 都在订阅时推送快照，主动解析一次
	r.limiter.Allow()
	go r.resolve()

	r.logger.Debug("resolver built", clog.String("service", r.grouped), clog.String("target", target.URL.String()))
	return r, nil
}

// Scheme 返回 scheme
func (b *resolverBuilder) Scheme() string {
	return b.opts.scheme
}

// namingResolver 实现 gRPC resolver.Resolver 接口
type namingResolver struct {
	client   naming.Client
	cc       resolver.ClientConn
	logger   clog.Logger
	timeout  time.Duration
	listener naming.EventListener

	service  string
	group    string
	clusters []string
	grouped  string
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (r *namingResolver) subscribeOptions() naming.SubscribeOptions {
	return naming.SubscribeOptions{GroupName: r.group, Clusters: r.clusters}
}

func (r *namingResolver) onEvent(event naming.Event) {
	r.update(naming.FilterInstances(event.Instances, true))
}

// resolve 全量查询健康实例，作为订阅推送的兜底
func (r *namingResolver) resolve() {
	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	instances, err := r.client.SelectInstances(ctx, r.service, true,
		naming.QueryOptions{GroupName: r.group, Clusters: r.clusters, NoSubscribe: true})
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Warn("failed to resolve service", clog.String("service", r.grouped), clog.Error(err))
		r.cc.ReportError(err)
		return
	}
	r.update(instances)
}

// update 推送地址到 gRPC
//
// 没有可用实例时推送空地址列表并上报错误，gRPC 不再连接已下线的地址。
func (r *namingResolver) update(instances []*naming.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if len(instances) == 0 {
		r.logger.Warn("no available instances", clog.String("service", r.grouped))
		// 负载均衡器拒绝空列表时返回 ErrBadResolverState，错误由 ReportError 统一上报
		_ = r.cc.UpdateState(resolver.State{})
		r.cc.ReportError(naming.NewError(naming.ErrNoAvailableInstance, "resolve", r.grouped, nil))
		return
	}

	addrs := make([]resolver.Address, 0, len(instances))
	for _, inst := range instances {
		addrs = append(addrs, resolver.Address{Addr: inst.Address()})
	}
	slices.SortFunc(addrs, func(a, b resolver.Address) int {
		return strings.Compare(a.Addr, b.Addr)
	})
	addrs = slices.CompactFunc(addrs, func(a, b resolver.Address) bool {
		return a.Addr == b.Addr
	})

	if err := r.cc.UpdateState(resolver.State{Addresses: addrs}); err != nil {
		r.logger.Warn("failed to update resolver state", clog.String("service", r.grouped), clog.Error(err))
		return
	}
	r.logger.Debug("resolver state updated", clog.String("service", r.grouped), clog.Int("addresses", len(addrs)))
}

// ResolveNow 立即重新解析（gRPC 可能会调用此方法）
//
// 连接抖动时 gRPC 会频繁调用，按 minInterval 限流。
func (r *namingResolver) ResolveNow(resolver.ResolveNowOptions) {
	if !r.limiter.Allow() {
		return
	}
	go r.resolve()
}

// Close 取消订阅并停止后续推送
func (r *namingResolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Unsubscribe(ctx, r.service, r.listener, r.subscribeOptions()); err != nil {
		r.logger.Warn("failed to unsubscribe", clog.String("service", r.grouped), clog.Error(err))
	}
}
