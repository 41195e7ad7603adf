package nacos

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// subKey 订阅的身份，listener 为 nil 表示带 Subscribe 的查询
type subKey struct {
	listener naming.EventListener
	group    string
	service  string
	clusters string
}

func (k subKey) grouped() string {
	return naming.GroupedName(k.group, k.service)
}

// subscription 一次订阅，param 在取消订阅时原样传回 SDK 以匹配回调
type subscription struct {
	key      subKey
	clusters []string
	param    *vo.SubscribeParam

	mu     sync.Mutex // 串行化监听器调用
	closed atomic.Bool
}

func (s *subscription) onChange(logger clog.Logger) func([]model.Instance, error) {
	return func(hosts []model.Instance, err error) {
		if err != nil {
			logger.Warn("subscribe callback error", clog.String("service", s.key.grouped()), clog.Error(err))
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed.Load() {
			return
		}
		s.key.listener.OnEvent(naming.Event{
			ServiceName: s.key.service,
			GroupName:   s.key.group,
			Clusters:    s.key.clusters,
			Instances:   naming.FilterClusters(fromModels(s.key.group, s.key.service, hosts), s.clusters),
		})
	}
}

func validateListener(listener naming.EventListener) error {
	if listener == nil {
		return &naming.ArgumentError{Field: "listener", Reason: "must not be nil"}
	}
	if !reflect.TypeOf(listener).Comparable() {
		return &naming.ArgumentError{Field: "listener", Reason: "must be comparable, use naming.NewListener"}
	}
	return nil
}

// Subscribe 订阅服务实例变化，同一监听器以相同集群重复订阅不会重复注册
func (c *Client) Subscribe(ctx context.Context, serviceName string, listener naming.EventListener, opts naming.SubscribeOptions) (err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opSubscribe, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrSubscription, opSubscribe, grouped, cause)
	}
	if err := c.validate(serviceName, group); err != nil {
		return fail(err)
	}
	if err := validateListener(listener); err != nil {
		return fail(err)
	}

	key := subKey{listener: listener, group: group, service: serviceName, clusters: naming.JoinClusters(opts.Clusters)}

	sub := &subscription{key: key, clusters: slices.Clone(opts.Clusters)}
	sub.param = &vo.SubscribeParam{
		ServiceName:       serviceName,
		GroupName:         group,
		Clusters:          sub.clusters,
		SubscribeCallback: sub.onChange(c.logger),
	}

	// SDK 可能在 Subscribe 内同步回调，调用期间不持有 c.mu
	c.mu.Lock()
	if _, ok := c.subs[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.subs[key] = sub
	c.mu.Unlock()

	if err := c.call(ctx, func() error {
		return c.api.Subscribe(sub.param)
	}); err != nil {
		sub.closed.Store(true)
		c.mu.Lock()
		if c.subs[key] == sub {
			delete(c.subs, key)
		}
		c.mu.Unlock()
		c.logger.Error("failed to subscribe", clog.String("service", grouped), clog.Error(err))
		return fail(xerrors.Wrap(err, "subscribe failed"))
	}
	c.setSubscriptions(ctx)

	c.logger.Info("subscribed", clog.String("service", grouped), clog.Strings("clusters", opts.Clusters))
	return nil
}

// Unsubscribe 取消订阅，listener 与 Clusters 须与订阅时一致；未订阅时直接返回成功
func (c *Client) Unsubscribe(ctx context.Context, serviceName string, listener naming.EventListener, opts naming.SubscribeOptions) (err error) {
	group := opts.Group()
	ctx, finish := c.begin(ctx, opUnsubscribe, group, serviceName)
	defer func() { finish(err) }()

	grouped := naming.GroupedName(group, serviceName)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrSubscription, opUnsubscribe, grouped, cause)
	}
	if err := c.validate(serviceName, group); err != nil {
		return fail(err)
	}
	if err := validateListener(listener); err != nil {
		return fail(err)
	}

	key := subKey{listener: listener, group: group, service: serviceName, clusters: naming.JoinClusters(opts.Clusters)}

	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if err := c.call(ctx, func() error {
		return c.api.Unsubscribe(sub.param)
	}); err != nil {
		c.mu.Lock()
		if _, exists := c.subs[key]; !exists {
			c.subs[key] = sub
		}
		c.mu.Unlock()
		return fail(xerrors.Wrap(err, "unsubscribe failed"))
	}
	sub.closed.Store(true)
	c.setSubscriptions(ctx)

	c.logger.Info("unsubscribed", clog.String("service", grouped), clog.Strings("clusters", opts.Clusters))
	return nil
}

// pin 记录带 Subscribe 的查询，SDK 会持续更新其缓存
func (c *Client) pin(group, service string, clusters []string) {
	key := subKey{group: group, service: service, clusters: naming.JoinClusters(clusters)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pinned[key]; ok {
		return
	}
	c.pinned[key] = struct{}{}
	c.metrics.SetSubscriptions(context.Background(), len(c.subs)+len(c.pinned))
}

func (c *Client) setSubscriptions(ctx context.Context) {
	c.mu.Lock()
	n := len(c.subs) + len(c.pinned)
	c.mu.Unlock()
	c.metrics.SetSubscriptions(ctx, n)
}

// GetSubscribeServices 返回当前订阅的服务，每个 (group, service, clusters) 一项，实例从服务端重新读取
func (c *Client) GetSubscribeServices(ctx context.Context) (out []*naming.ServiceInfo, err error) {
	ctx, finish := c.begin(ctx, opSubscribedServices, "", "")
	defer func() { finish(err) }()

	if c.closed.Load() {
		return nil, naming.NewError(naming.ErrQuery, opSubscribedServices, "", naming.ErrClientClosed)
	}

	type target struct {
		group, service, clusters string
	}
	c.mu.Lock()
	targets := make(map[target]struct{}, len(c.subs)+len(c.pinned))
	for key := range c.subs {
		targets[target{key.group, key.service, key.clusters}] = struct{}{}
	}
	for key := range c.pinned {
		targets[target{key.group, key.service, key.clusters}] = struct{}{}
	}
	c.mu.Unlock()

	out = make([]*naming.ServiceInfo, 0, len(targets))
	for t := range targets {
		clusters := naming.SplitClusters(t.clusters)
		var svc model.Service
		if err := c.call(ctx, func() error {
			var err error
			svc, err = c.api.GetService(vo.GetServiceParam{
				Clusters:    clusters,
				ServiceName: t.service,
				GroupName:   t.group,
			})
			return err
		}); err != nil {
			grouped := naming.GroupedName(t.group, t.service)
			return nil, naming.NewError(naming.ErrQuery, opSubscribedServices, grouped, xerrors.Wrap(err, "get service failed"))
		}
		out = append(out, &naming.ServiceInfo{
			Name:        t.service,
			GroupName:   t.group,
			Clusters:    t.clusters,
			Instances:   naming.FilterClusters(fromModels(t.group, t.service, svc.Hosts), clusters),
			LastRefTime: time.UnixMilli(int64(svc.LastRefTime)),
		})
	}
	slices.SortFunc(out, func(a, b *naming.ServiceInfo) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out, nil
}
