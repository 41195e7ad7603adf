// Package nacos 提供基于 Nacos 的注册中心客户端，实现 naming.Client。
//
// 客户端包装 nacos-sdk-go 的 INamingClient，在其基础上补充：
// - 统一的参数校验与 naming.RegistryError 错误分类
// - 熔断保护、日志、指标与 Span
// - 以 (listener, service, group, clusters) 为粒度的订阅管理，取消订阅时传入与订阅相同的回调
//
// 基本使用：
//
//	cfg, _ := nacos.ConfigFromMetadata(naming.NewMetadata(map[string]string{
//		naming.KeyServerAddr: "127.0.0.1:8848",
//		naming.KeyNamespace:  "dev",
//	}))
//	client, _ := nacos.New(cfg, nacos.WithLogger(logger))
//	defer client.Close()
//
//	inst, err := client.SelectOneHealthyInstance(ctx, "orders", naming.QueryOptions{})
package nacos

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/trace"
	"github.com/ceyewan/naming/xerrors"
)

// BackendName 指标与 Span 中的后端名称
const BackendName = "nacos"

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

// listPageSize 带选择器列举服务时逐页拉取的页大小
const listPageSize = 500

// Client 基于 Nacos 的注册中心客户端，并发安全
type Client struct {
	api        namingAPI
	cfg        *Config
	logger     clog.Logger
	tracer     oteltrace.Tracer
	metrics    *metrics.NamingClientMetrics
	breaker    breaker.Breaker
	breakerKey string
	balancer   naming.Balancer

	mu     sync.Mutex
	subs   map[subKey]*subscription
	pinned map[subKey]struct{} // 带 Subscribe 的查询，listener 为 nil

	closed atomic.Bool
}

var _ naming.Client = (*Client)(nil)

// New 创建 Nacos 客户端
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, ErrServerAddrRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		tracer: trace.Tracer("github.com/ceyewan/naming/nacos"),
	}
	for _, o := range opts {
		o(opt)
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

	api := opt.api
	if api == nil {
		if api, err = newSDKClient(cfg); err != nil {
			return nil, err
		}
	}

	server := cfg.Endpoint
	if len(cfg.ServerAddrs) > 0 {
		server = strings.Join(cfg.ServerAddrs, ",")
	}

	c := &Client{
		api:        api,
		cfg:        cfg,
		logger:     opt.logger,
		tracer:     opt.tracer,
		metrics:    nm,
		breaker:    brk,
		breakerKey: "nacos:" + server,
		balancer:   naming.WeightedRandom{},
		subs:       make(map[subKey]*subscription),
		pinned:     make(map[subKey]struct{}),
	}

	c.logger.Info("nacos client created",
		clog.String("server", server),
		clog.String("namespace", cfg.Namespace),
		clog.Duration("timeout", cfg.Timeout))
	return c, nil
}

// begin 开启一次操作的 Span，返回的 finish 记录指标并结束 Span
func (c *Client) begin(ctx context.Context, op, group, service string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := trace.StartClientSpan(ctx, c.tracer, BackendName, op, service, group)
	return ctx, func(err error) {
		c.metrics.Observe(ctx, op, service, err, time.Since(start))
		trace.End(span, err)
	}
}

// call 在熔断保护下执行 SDK 调用，SDK 不感知 ctx，调用前检查是否已取消
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.breaker.Do(ctx, c.breakerKey, fn)
}

// validateName Nacos 以 "@@" 拼接分组与服务名，名字中不能出现
func validateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return &naming.ArgumentError{Field: field, Reason: "must not be empty"}
	}
	if strings.Contains(name, "@@") {
		return &naming.ArgumentError{Field: field, Reason: "must not contain '@@'"}
	}
	return nil
}

func (c *Client) validate(service, group string) error {
	if c.closed.Load() {
		return naming.ErrClientClosed
	}
	if err := validateName("serviceName", service); err != nil {
		return err
	}
	return validateName("groupName", group)
}

// RegisterInstance 注册实例
func (c *Client) RegisterInstance(ctx context.Context, serviceName string, instance *naming.Instance, opts naming.RegisterOptions) (err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opRegister, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	if err := c.validate(serviceName, group); err != nil {
		return naming.NewError(naming.ErrRegistration, opRegister, grouped, err)
	}
	if err := instance.Validate(); err != nil {
		return naming.NewError(naming.ErrRegistration, opRegister, grouped, err)
	}

	param := registerParam(group, serviceName, instance)
	if err := c.call(ctx, func() error {
		ok, err := c.api.RegisterInstance(param)
		if err == nil && !ok {
			err = ErrOperationRejected
		}
		return err
	}); err != nil {
		c.logger.Error("failed to register instance",
			clog.String("service", grouped),
			clog.String("address", instance.Address()),
			clog.Error(err))
		return naming.NewError(naming.ErrRegistration, opRegister, grouped, xerrors.Wrap(err, "register instance failed"))
	}

	c.logger.Info("instance registered",
		clog.String("service", grouped),
		clog.String("address", instance.Address()),
		clog.Bool("ephemeral", instance.Ephemeral))
	return nil
}

// DeregisterInstance 注销实例
func (c *Client) DeregisterInstance(ctx context.Context, serviceName string, instance *naming.Instance, opts naming.RegisterOptions) (err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opDeregister, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	if err := c.validate(serviceName, group); err != nil {
		return naming.NewError(naming.ErrRegistration, opDeregister, grouped, err)
	}
	if instance == nil {
		return naming.NewError(naming.ErrRegistration, opDeregister, grouped,
			&naming.ArgumentError{Field: "instance", Reason: "must not be nil"})
	}

	param := deregisterParam(group, serviceName, instance)
	if err := c.call(ctx, func() error {
		ok, err := c.api.DeregisterInstance(param)
		if err == nil && !ok {
			err = ErrOperationRejected
		}
		return err
	}); err != nil {
		c.logger.Error("failed to deregister instance",
			clog.String("service", grouped),
			clog.String("address", instance.Address()),
			clog.Error(err))
		return naming.NewError(naming.ErrRegistration, opDeregister, grouped, xerrors.Wrap(err, "deregister instance failed"))
	}

	c.logger.Info("instance deregistered",
		clog.String("service", grouped),
		clog.String("address", instance.Address()))
	return nil
}

// GetAllInstances 返回服务的全部实例
//
// 默认走 SDK 的订阅缓存（SelectAllInstances）并记入 GetSubscribeServices；
// opts.NoSubscribe 时改用 GetService，该调用在 SDK 缓存未命中时同样会向服务端订阅，
// 区别只在于本客户端不记录该服务。
func (c *Client) GetAllInstances(ctx context.Context, serviceName string, opts naming.QueryOptions) (out []*naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opGetAll, group, serviceName)
	defer func() { finish(err) }()

	return c.query(ctx, opGetAll, group, serviceName, opts)
}

// SelectInstances 返回 Healthy == healthy、启用且权重为正的实例
func (c *Client) SelectInstances(ctx context.Context, serviceName string, healthy bool, opts naming.QueryOptions) (out []*naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opSelect, group, serviceName)
	defer func() { finish(err) }()

	// 筛选在本地完成，空结果不是错误
	all, err := c.query(ctx, opSelect, group, serviceName, opts)
	if err != nil {
		return nil, err
	}
	return naming.FilterInstances(all, healthy), nil
}

// SelectOneHealthyInstance 在健康实例中按权重随机选取一个
func (c *Client) SelectOneHealthyInstance(ctx context.Context, serviceName string, opts naming.QueryOptions) (out *naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opSelectOne, group, serviceName)
	defer func() { finish(err) }()

	all, err := c.query(ctx, opSelectOne, group, serviceName, opts)
	if err != nil {
		return nil, err
	}
	picked := c.balancer.Pick(all)
	if picked == nil {
		return nil, naming.NewError(naming.ErrNoAvailableInstance, opSelectOne, naming.GroupedName(group, serviceName), nil)
	}
	return picked, nil
}

// query 读取服务在指定集群下的全部实例
func (c *Client) query(ctx context.Context, op, group, service string, opts naming.QueryOptions) ([]*naming.Instance, error) {
	grouped := naming.GroupedName(group, service)
	if err := c.validate(service, group); err != nil {
		return nil, naming.NewError(naming.ErrQuery, op, grouped, err)
	}

	var hosts []model.Instance
	err := c.call(ctx, func() error {
		if opts.Subscribed() {
			var err error
			hosts, err = c.api.SelectAllInstances(vo.SelectAllInstancesParam{
				Clusters:    opts.Clusters,
				ServiceName: service,
				GroupName:   group,
			})
			return err
		}
		svc, err := c.api.GetService(vo.GetServiceParam{
			Clusters:    opts.Clusters,
			ServiceName: service,
			GroupName:   group,
		})
		hosts = svc.Hosts
		return err
	})
	if err != nil {
		c.logger.Error("failed to get instances", clog.String("service", grouped), clog.Error(err))
		return nil, naming.NewError(naming.ErrQuery, op, grouped, xerrors.Wrap(err, "get instances failed"))
	}
	if opts.Subscribed() {
		c.pin(group, service, opts.Clusters)
	}
	return naming.FilterClusters(fromModels(group, service, hosts), opts.Clusters), nil
}

// GetServicesOfServer 分页列举分组下的服务名
//
// 无选择器时直接使用服务端分页；有选择器时拉取全部服务名，逐个查询实例并按名称排序后分页。
func (c *Client) GetServicesOfServer(ctx context.Context, pageNo, pageSize int, opts naming.ListOptions) (out *naming.ListView[string], err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opListServices, group, "")
	defer func() { finish(err) }()

	fail := func(cause error) error {
		return naming.NewError(naming.ErrQuery, opListServices, "", cause)
	}

	if c.closed.Load() {
		return nil, fail(naming.ErrClientClosed)
	}
	if pageNo < 1 {
		return nil, fail(&naming.ArgumentError{Field: "pageNo", Reason: "must be >= 1"})
	}
	if pageSize < 1 {
		return nil, fail(&naming.ArgumentError{Field: "pageSize", Reason: "must be >= 1"})
	}
	if err := validateName("groupName", group); err != nil {
		return nil, fail(err)
	}
	matcher, err := naming.AsMatcher(opts.Selector)
	if err != nil {
		return nil, fail(err)
	}

	if matcher == nil {
		list, err := c.listPage(ctx, group, pageNo, pageSize)
		if err != nil {
			return nil, fail(err)
		}
		items := list.Doms
		if items == nil {
			items = []string{}
		}
		return &naming.ListView[string]{Items: items, Count: int(list.Count)}, nil
	}

	names, err := c.listAll(ctx, group)
	if err != nil {
		return nil, fail(err)
	}
	var matched []string
	for _, name := range names {
		var svc model.Service
		if err := c.call(ctx, func() error {
			var err error
			svc, err = c.api.GetService(vo.GetServiceParam{ServiceName: name, GroupName: group})
			return err
		}); err != nil {
			return nil, fail(xerrors.Wrapf(err, "get service %s failed", name))
		}
		if slices.ContainsFunc(fromModels(group, name, svc.Hosts), matcher.Match) {
			matched = append(matched, name)
		}
	}
	slices.Sort(matched)
	return naming.Page(matched, pageNo, pageSize), nil
}

func (c *Client) listPage(ctx context.Context, group string, pageNo, pageSize int) (model.ServiceList, error) {
	var list model.ServiceList
	err := c.call(ctx, func() error {
		var err error
		list, err = c.api.GetAllServicesInfo(vo.GetAllServiceInfoParam{
			NameSpace: c.cfg.Namespace,
			GroupName: group,
			PageNo:    uint32(pageNo),
			PageSize:  uint32(pageSize),
		})
		return err
	})
	if err != nil {
		return model.ServiceList{}, xerrors.Wrap(err, "list services failed")
	}
	return list, nil
}

// listAll 逐页拉取分组下的全部服务名
func (c *Client) listAll(ctx context.Context, group string) ([]string, error) {
	var names []string
	for page := 1; ; page++ {
		list, err := c.listPage(ctx, group, page, listPageSize)
		if err != nil {
			return nil, err
		}
		names = append(names, list.Doms...)
		if len(list.Doms) < listPageSize || int64(len(names)) >= list.Count {
			return names, nil
		}
	}
}

// GetServerStatus 返回 SDK 观测到的服务端状态
func (c *Client) GetServerStatus(context.Context) string {
	if c.closed.Load() || !c.api.ServerHealthy() {
		return naming.StatusDown
	}
	return naming.StatusUp
}

// Close 取消全部订阅并关闭 SDK 客户端，可重复调用
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for key, sub := range c.subs {
		sub.closed.Store(true)
		subs = append(subs, sub)
		delete(c.subs, key)
	}
	clear(c.pinned)
	c.mu.Unlock()

	for _, sub := range subs {
		if err := c.api.Unsubscribe(sub.param); err != nil {
			c.logger.Warn("failed to unsubscribe during shutdown",
				clog.String("service", sub.key.grouped()),
				clog.Error(err))
		}
	}
	c.api.CloseClient()
	c.metrics.SetSubscriptions(context.Background(), 0)

	c.logger.Info("nacos client closed", clog.Int("subscriptions", len(subs)))
	return nil
}
