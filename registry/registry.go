// Package registry 提供基于 etcd 的注册中心客户端，实现 naming.Client。
//
// 在 etcd 连接器的基础上提供：
// - 实例注册与注销，临时实例通过租约自动续约，租约失效后自动重建
// - 按分组、集群查询实例，健康筛选与按权重选取
// - 实例变化订阅，断线后从上次 revision 续接，压缩后全量重同步
// - 分页列举服务，支持标签选择器
// - gRPC Resolver 集成，支持 `naming:///<service>` 解析
// - 与日志、指标、链路追踪、熔断组件的集成
//
// ## 基本使用
//
//	etcdConn, _ := connector.NewEtcd(&cfg.Etcd, connector.WithLogger(logger))
//	defer etcdConn.Close()
//	etcdConn.Connect(ctx)
//
//	reg, _ := registry.New(etcdConn, &registry.Config{
//		Namespace:  "/naming/services",
//		DefaultTTL: 30 * time.Second,
//	}, registry.WithLogger(logger))
//	defer reg.Close()
//
//	// 注册实例
//	err := reg.RegisterInstance(ctx, "orders", naming.NewInstance("10.0.0.1", 8080), naming.RegisterOptions{})
//
//	// 选取一个健康实例
//	inst, err := reg.SelectOneHealthyInstance(ctx, "orders", naming.QueryOptions{})
//
//	// gRPC 集成
//	conn, err := registry.Dial(ctx, reg, "orders",
//		registry.WithDialOptions(grpc.WithTransportCredentials(insecure.NewCredentials())))
//
// ## etcd 存储结构
//
//	<namespace>/<group>/<service>/<cluster>/<ip>:<port> -> Codec(Instance)
//
// 例如：
// - `/naming/services/DEFAULT_GROUP/orders/DEFAULT/10.0.0.1:8080`
//
// ## 设计原则
//
// - **借用模型**：默认借用连接器的客户端，不负责连接的生命周期，WithOwnedConnector 可转移所有权
// - **显式依赖**：通过构造函数显式注入连接器和选项
// - **可观测性**：每个操作都记录日志、指标与 Span
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/connector"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/trace"
	"github.com/ceyewan/naming/xerrors"
)

// BackendName 指标与 Span 中的后端名称
const BackendName = "etcd"

// 操作名，用于错误、日志、指标与 Span
const (
	opRegister           = "register"
	opDeregister         = "deregister"
	opGetAll             = "get_all"
	opSelect             = "select"
	opSelectOne          = "select_one"
	opSubscribe          = "subscribe"
	opUnsubscribe        = "unsubscribe"
	opListServices       = "list_services"
	opSubscribedServices = "subscribed_services"
)

// revokeTimeout 关闭时撤销租约的超时
const revokeTimeout = 5 * time.Second

// leaseKeepAlive 租约保活信息，leaseID、value、cancel 由 Registry.leaseMu 保护
type leaseKeepAlive struct {
	key     string
	service string
	group   string
	leaseID clientv3.LeaseID
	value   []byte
	ch      <-chan *clientv3.LeaseKeepAliveResponse
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// Registry 基于 etcd 的注册中心客户端，并发安全
type Registry struct {
	conn       connector.EtcdConnector
	client     *clientv3.Client
	cfg        *Config
	keys       keyspace
	codec      Codec
	logger     clog.Logger
	tracer     oteltrace.Tracer
	metrics    *metrics.NamingClientMetrics
	breaker    breaker.Breaker
	breakerKey string
	balancer   naming.Balancer
	owned      bool

	cache *instanceCache
	sf    singleflight.Group

	leaseMu sync.Mutex
	leases  map[string]*leaseKeepAlive // instance key -> lease

	mu       sync.Mutex
	watchers map[string]*watcher // group@@service -> watcher

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ naming.Client = (*Registry)(nil)

// New 创建 Registry 实例
//
// 参数:
//   - conn: etcd 连接器，须已 Connect 或随后 Connect
//   - cfg: Registry 配置，nil 使用 DefaultConfig
//   - opts: 可选参数 (Logger, Meter, Tracer, Breaker)
func New(conn connector.EtcdConnector, cfg *Config, opts ...Option) (*Registry, error) {
	if conn == nil {
		return nil, ErrConnectorRequired
	}
	client := conn.GetClient()
	if client == nil {
		return nil, xerrors.Wrap(ErrConnectorRequired, "etcd client is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: trace.Tracer("github.com/ceyewan/naming/registry"),
	}
	for _, o := range opts {
		o(opt)
	}

	codec, err := newCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	nm, err := metrics.NewNamingClientMetrics(opt.meter, BackendName)
	if err != nil {
		return nil, err
	}

	brk := opt.breaker
	if brk == nil {
		if brk, err = breaker.New(cfg.Breaker, breaker.WithLogger(opt.logger), breaker.WithMeter(opt.meter)); err != nil {
			return nil, xerrors.Wrap(err, "create breaker")
		}
	}

	r := &Registry{
		conn:       conn,
		client:     client,
		cfg:        cfg,
		keys:       keyspace{namespace: cfg.Namespace},
		codec:      codec,
		logger:     opt.logger,
		tracer:     opt.tracer,
		metrics:    nm,
		breaker:    brk,
		breakerKey: "etcd:" + conn.Name(),
		balancer:   naming.WeightedRandom{},
		owned:      opt.ownedConnector,
		leases:     make(map[string]*leaseKeepAlive),
		watchers:   make(map[string]*watcher),
		stopCh:     make(chan struct{}),
	}

	if cfg.EnableCache {
		if r.cache, err = newInstanceCache(cfg.CacheCapacity, cfg.CacheExpiration); err != nil {
			return nil, err
		}
	}

	r.logger.Info("etcd registry created",
		clog.String("namespace", cfg.Namespace),
		clog.Duration("default_ttl", cfg.DefaultTTL),
		clog.String("codec", codec.Name()),
		clog.Bool("cache", cfg.EnableCache))
	return r, nil
}

// begin 开启一次操作的 Span，返回的 finish 记录指标并结束 Span
func (r *Registry) begin(ctx context.Context, op, group, service string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := trace.StartClientSpan(ctx, r.tracer, BackendName, op, service, group)
	return ctx, func(err error) {
		r.metrics.Observe(ctx, op, service, err, time.Since(start))
		trace.End(span, err)
	}
}

// call 在熔断保护下执行 etcd 调用
func (r *Registry) call(ctx context.Context, fn func() error) error {
	return r.breaker.Do(ctx, r.breakerKey, fn)
}

// invalidate 丢弃缓存，并让之后的查询不再复用进行中的加载
func (r *Registry) invalidate(grouped string) {
	if r.cache != nil {
		r.cache.invalidate(grouped)
	}
	r.sf.Forget(grouped)
}

// RegisterInstance 注册实例
//
// 临时实例绑定租约，由后台协程续约；持久实例直接写入，不会过期。
// 同一 Key 重复注册覆盖旧值并复用已有租约。
func (r *Registry) RegisterInstance(ctx context.Context, serviceName string, instance *naming.Instance, opts naming.RegisterOptions) (err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opRegister, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrRegistration, opRegister, grouped, cause)
	}

	if r.closed.Load() {
		return fail(naming.ErrClientClosed)
	}
	if err := validateName("serviceName", serviceName); err != nil {
		return fail(err)
	}
	if err := validateName("groupName", group); err != nil {
		return fail(err)
	}
	if err := instance.Validate(); err != nil {
		return fail(err)
	}
	if err := validateName("clusterName", instance.Cluster()); err != nil {
		return fail(err)
	}

	stored := instance.Clone()
	stored.ServiceName = serviceName
	stored.GroupName = group
	stored.ClusterName = instance.Cluster()
	if stored.InstanceID == "" {
		stored.InstanceID = instanceID(group, serviceName, stored)
	}
	value, err := r.codec.Marshal(stored)
	if err != nil {
		return fail(xerrors.Wrap(err, "marshal instance failed"))
	}
	key := r.keys.instanceKey(group, serviceName, stored)
	defer r.invalidate(grouped)

	if !stored.Ephemeral {
		if err := r.call(ctx, func() error {
			_, err := r.client.Put(ctx, key, string(value))
			return err
		}); err != nil {
			r.logger.Error("failed to put persistent instance", clog.String("key", key), clog.Error(err))
			return fail(xerrors.Wrap(err, "put instance failed"))
		}
		// 由临时实例改为持久实例时，旧租约不再需要
		r.dropLease(ctx, key)
		r.logger.Info("instance registered",
			clog.String("service", grouped),
			clog.String("address", stored.Address()),
			clog.Bool("ephemeral", false))
		return nil
	}

	if err := r.putEphemeral(ctx, key, grouped, group, serviceName, value); err != nil {
		return fail(err)
	}
	r.logger.Info("instance registered",
		clog.String("service", grouped),
		clog.String("address", stored.Address()),
		clog.Duration("ttl", r.cfg.DefaultTTL))
	return nil
}

// putEphemeral 写入临时实例，已有可用租约时复用
func (r *Registry) putEphemeral(ctx context.Context, key, grouped, group, service string, value []byte) error {
	r.leaseMu.Lock()
	defer r.leaseMu.Unlock()

	if r.closed.Load() {
		return naming.ErrClientClosed
	}

	if ka, ok := r.leases[key]; ok {
		leaseID := ka.leaseID
		err := r.call(ctx, func() error {
			_, err := r.client.Put(ctx, key, string(value), clientv3.WithLease(leaseID))
			return err
		})
		if err == nil {
			ka.value = value
			return nil
		}
		if !xerrors.Is(err, rpctypes.ErrLeaseNotFound) {
			return xerrors.Wrap(err, "put instance failed")
		}
		// 租约已过期，丢弃后重新申请
		ka.closed.Store(true)
		ka.cancel()
		delete(r.leases, key)
	}

	leaseID, ch, cancel, err := r.grantAndPut(ctx, key, value)
	if err != nil {
		r.logger.Error("failed to register ephemeral instance", clog.String("key", key), clog.Error(err))
		return err
	}

	ka := &leaseKeepAlive{
		key:     key,
		service: service,
		group:   group,
		leaseID: leaseID,
		value:   value,
		ch:      ch,
		cancel:  cancel,
	}
	r.leases[key] = ka

	r.wg.Add(1)
	go r.monitorKeepAlive(ka, grouped)
	return nil
}

// grantAndPut 申请租约、写入 Key 并启动续约，任一步失败都会撤销租约
func (r *Registry) grantAndPut(ctx context.Context, key string, value []byte) (clientv3.LeaseID, <-chan *clientv3.LeaseKeepAliveResponse, context.CancelFunc, error) {
	var lease *clientv3.LeaseGrantResponse
	if err := r.call(ctx, func() error {
		var err error
		lease, err = r.client.Grant(ctx, int64(r.cfg.DefaultTTL.Seconds()))
		return err
	}); err != nil {
		return 0, nil, nil, xerrors.Wrap(err, "grant lease failed")
	}

	revoke := func() {
		rctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
		defer cancel()
		if _, err := r.client.Revoke(rctx, lease.ID); err != nil {
			r.logger.Warn("failed to revoke lease", clog.Int64("lease_id", int64(lease.ID)), clog.Error(err))
		}
	}

	if err := r.call(ctx, func() error {
		_, err := r.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID))
		return err
	}); err != nil {
		revoke()
		return 0, nil, nil, xerrors.Wrap(err, "put instance failed")
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		revoke()
		return 0, nil, nil, xerrors.Wrap(err, "keepalive failed")
	}
	return lease.ID, ch, cancel, nil
}

// monitorKeepAlive 监控租约续约
//
// channel 被调用方关闭（注销、Close）时直接退出；否则视为租约失效，
// 按 RetryInterval 重建租约并重新写入实例，直到成功或实例被注销。
func (r *Registry) monitorKeepAlive(ka *leaseKeepAlive, grouped string) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return

		case resp, ok := <-ka.ch:
			if ok {
				r.logger.Debug("keepalive renewed",
					clog.String("key", ka.key),
					clog.Int64("lease_id", int64(resp.ID)),
					clog.Int64("ttl", resp.TTL))
				continue
			}
			if ka.closed.Load() {
				return
			}

			r.logger.Error("keepalive channel closed, lease expired or connection lost",
				clog.String("key", ka.key),
				clog.Error(ErrLeaseLost))
			if !r.reestablish(ka, grouped) {
				return
			}
		}
	}
}

// reestablish 重建租约，返回 false 表示应停止监控
func (r *Registry) reestablish(ka *leaseKeepAlive, grouped string) bool {
	timer := time.NewTimer(r.cfg.RetryInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return false
		case <-timer.C:
		}
		if ka.closed.Load() {
			return false
		}

		r.leaseMu.Lock()
		value := ka.value
		r.leaseMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DefaultTTL)
		leaseID, ch, kaCancel, err := r.grantAndPut(ctx, ka.key, value)
		cancel()
		if err != nil {
			r.logger.Warn("failed to re-establish lease, will retry",
				clog.String("key", ka.key),
				clog.Duration("retry_after", r.cfg.RetryInterval),
				clog.Error(err))
			timer.Reset(r.cfg.RetryInterval)
			continue
		}

		r.leaseMu.Lock()
		if ka.closed.Load() || r.leases[ka.key] != ka {
			r.leaseMu.Unlock()
			kaCancel()
			rctx, rcancel := context.WithTimeout(context.Background(), revokeTimeout)
			_, _ = r.client.Revoke(rctx, leaseID)
			rcancel()
			return false
		}
		ka.cancel()
		ka.leaseID, ka.ch, ka.cancel = leaseID, ch, kaCancel
		r.leaseMu.Unlock()

		r.invalidate(grouped)
		r.logger.Info("lease re-established",
			clog.String("key", ka.key),
			clog.Int64("lease_id", int64(leaseID)))
		return true
	}
}

// dropLease 停止 Key 的续约并撤销租约
func (r *Registry) dropLease(ctx context.Context, key string) {
	r.leaseMu.Lock()
	ka, ok := r.leases[key]
	if ok {
		ka.closed.Store(true)
		ka.cancel()
		delete(r.leases, key)
	}
	r.leaseMu.Unlock()
	if !ok {
		return
	}

	if _, err := r.client.Revoke(ctx, ka.leaseID); err != nil && !xerrors.Is(err, rpctypes.ErrLeaseNotFound) {
		r.logger.Warn("failed to revoke lease",
			clog.String("key", key),
			clog.Int64("lease_id", int64(ka.leaseID)),
			clog.Error(err))
	}
}

// DeregisterInstance 注销实例，实例不存在时同样返回成功
func (r *Registry) DeregisterInstance(ctx context.Context, serviceName string, instance *naming.Instance, opts naming.RegisterOptions) (err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opDeregister, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrRegistration, opDeregister, grouped, cause)
	}

	if r.closed.Load() {
		return fail(naming.ErrClientClosed)
	}
	if err := validateName("serviceName", serviceName); err != nil {
		return fail(err)
	}
	if err := validateName("groupName", group); err != nil {
		return fail(err)
	}
	if instance == nil {
		return fail(&naming.ArgumentError{Field: "instance", Reason: "must not be nil"})
	}
	if err := validateName("clusterName", instance.Cluster()); err != nil {
		return fail(err)
	}

	key := r.keys.instanceKey(group, serviceName, instance)
	defer r.invalidate(grouped)

	var deleted int64
	if err := r.call(ctx, func() error {
		resp, err := r.client.Delete(ctx, key)
		if err == nil {
			deleted = resp.Deleted
		}
		return err
	}); err != nil {
		r.logger.Error("failed to delete instance", clog.String("key", key), clog.Error(err))
		return fail(xerrors.Wrap(err, "delete instance failed"))
	}
	r.dropLease(ctx, key)

	r.logger.Info("instance deregistered",
		clog.String("service", grouped),
		clog.String("address", instance.Address()),
		clog.Bool("existed", deleted > 0))
	return nil
}

// GetServerStatus 通过连接器健康检查判断 etcd 是否可用
func (r *Registry) GetServerStatus(ctx context.Context) string {
	if r.closed.Load() {
		return naming.StatusDown
	}
	if err := r.conn.HealthCheck(ctx); err != nil {
		return naming.StatusDown
	}
	return naming.StatusUp
}

// Close 停止后台任务并清理资源（撤销租约、停止监听）
// 此方法是幂等的，可以安全地多次调用
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stopCh)

	r.mu.Lock()
	for key, w := range r.watchers {
		w.cancel()
		delete(r.watchers, key)
	}
	r.mu.Unlock()
	r.metrics.SetSubscriptions(context.Background(), 0)

	r.leaseMu.Lock()
	leases := make([]*leaseKeepAlive, 0, len(r.leases))
	for key, ka := range r.leases {
		ka.closed.Store(true)
		ka.cancel()
		leases = append(leases, ka)
		delete(r.leases, key)
	}
	r.leaseMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()
	for _, ka := range leases {
		if _, err := r.client.Revoke(ctx, ka.leaseID); err != nil {
			r.logger.Warn("failed to revoke lease during shutdown",
				clog.String("key", ka.key),
				clog.Error(err))
		}
	}

	r.wg.Wait()
	if r.cache != nil {
		r.cache.clear()
	}

	r.logger.Info("etcd registry stopped", clog.Int("revoked_leases", len(leases)))
	if r.owned {
		return r.conn.Close()
	}
	return nil
}
