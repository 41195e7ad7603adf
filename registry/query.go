package registry

import (
	"context"
	"maps"
	"slices"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// instanceEntry 一个实例及其原始编码，用于判断值是否变化
type instanceEntry struct {
	instance *naming.Instance
	raw      string
}

// GetAllInstances 返回服务的全部实例，未设置 opts.NoSubscribe 时同时建立 watch
//
// 已建立 watch 的服务直接读取 watch 维护的快照。
func (r *Registry) GetAllInstances(ctx context.Context, serviceName string, opts naming.QueryOptions) (out []*naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opGetAll, group, serviceName)
	defer func() { finish(err) }()

	all, err := r.query(ctx, opGetAll, group, serviceName, opts)
	if err != nil {
		return nil, err
	}
	return cloneInstances(naming.FilterClusters(all, opts.Clusters)), nil
}

// SelectInstances 返回 Healthy == healthy、启用且权重为正的实例
func (r *Registry) SelectInstances(ctx context.Context, serviceName string, healthy bool, opts naming.QueryOptions) (out []*naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opSelect, group, serviceName)
	defer func() { finish(err) }()

	all, err := r.query(ctx, opSelect, group, serviceName, opts)
	if err != nil {
		return nil, err
	}
	return cloneInstances(naming.FilterInstances(naming.FilterClusters(all, opts.Clusters), healthy)), nil
}

// SelectOneHealthyInstance 在健康实例中按权重随机选取一个
func (r *Registry) SelectOneHealthyInstance(ctx context.Context, serviceName string, opts naming.QueryOptions) (out *naming.Instance, err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opSelectOne, group, serviceName)
	defer func() { finish(err) }()

	all, err := r.query(ctx, opSelectOne, group, serviceName, opts)
	if err != nil {
		return nil, err
	}
	picked := r.balancer.Pick(naming.FilterClusters(all, opts.Clusters))
	if picked == nil {
		return nil, naming.NewError(naming.ErrNoAvailableInstance, opSelectOne, naming.GroupedName(group, serviceName), nil)
	}
	return picked.Clone(), nil
}

// query 是查询类操作的公共路径：校验、按需订阅、读取实例
func (r *Registry) query(ctx context.Context, op, group, service string, opts naming.QueryOptions) ([]*naming.Instance, error) {
	grouped := naming.GroupedName(group, service)
	fail := func(cause error) error {
		return naming.NewError(naming.ErrQuery, op, grouped, cause)
	}

	if r.closed.Load() {
		return nil, fail(naming.ErrClientClosed)
	}
	if err := validateName("serviceName", service); err != nil {
		return nil, fail(err)
	}
	if err := validateName("groupName", group); err != nil {
		return nil, fail(err)
	}

	if opts.Subscribed() {
		if err := r.pin(ctx, group, service, opts.Clusters); err != nil {
			return nil, fail(err)
		}
	}

	all, err := r.instances(ctx, group, service)
	if err != nil {
		return nil, fail(err)
	}
	return all, nil
}

// instances 返回服务全部集群的实例，依次尝试 watch 快照、缓存、etcd
//
// 返回的切片与实例可能被共享，调用方不得修改。
func (r *Registry) instances(ctx context.Context, group, service string) ([]*naming.Instance, error) {
	grouped := naming.GroupedName(group, service)

	r.mu.Lock()
	w := r.watchers[grouped]
	r.mu.Unlock()
	if w != nil {
		return w.snapshot(), nil
	}

	var gen uint64
	if r.cache != nil {
		if list, ok := r.cache.get(grouped); ok {
			return list, nil
		}
		gen = r.cache.generation(grouped)
	}

	v, err, shared := r.sf.Do(grouped, func() (any, error) {
		entries, _, err := r.load(ctx, group, service)
		if err != nil {
			return nil, err
		}
		list := sortedInstances(entries)
		if r.cache != nil {
			r.cache.set(grouped, gen, list)
		}
		return list, nil
	})
	if err != nil {
		r.logger.Error("failed to get instances",
			clog.String("service", grouped),
			clog.Bool("shared", shared),
			clog.Error(err))
		return nil, err
	}
	return v.([]*naming.Instance), nil
}

// load 读取服务前缀下的全部实例及当前 revision
func (r *Registry) load(ctx context.Context, group, service string) (map[string]instanceEntry, int64, error) {
	prefix := r.keys.servicePrefix(group, service)

	var resp *clientv3.GetResponse
	if err := r.call(ctx, func() error {
		var err error
		resp, err = r.client.Get(ctx, prefix, clientv3.WithPrefix())
		return err
	}); err != nil {
		return nil, 0, xerrors.Wrap(err, "get instances failed")
	}

	entries := make(map[string]instanceEntry, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if inst, ok := r.decode(kv); ok {
			entries[string(kv.Key)] = instanceEntry{instance: inst, raw: string(kv.Value)}
		}
	}
	return entries, resp.Header.Revision, nil
}

// decode 解码实例，并以 Key 中的维度为准补全名称
func (r *Registry) decode(kv *mvccpb.KeyValue) (*naming.Instance, bool) {
	parts, ok := r.keys.parse(string(kv.Key))
	if !ok {
		r.logger.Warn("skip malformed instance key", clog.String("key", string(kv.Key)))
		return nil, false
	}

	inst := &naming.Instance{}
	if err := r.codec.Unmarshal(kv.Value, inst); err != nil {
		r.logger.Warn("failed to unmarshal instance",
			clog.String("key", string(kv.Key)),
			clog.String("codec", r.codec.Name()),
			clog.Error(err))
		return nil, false
	}
	inst.GroupName = parts.group
	inst.ServiceName = parts.service
	inst.ClusterName = parts.cluster
	return inst, true
}

// GetServicesOfServer 分页列举分组下的服务名，按名称排序
//
// Selector 须实现 naming.Matcher（如 naming.LabelSelector），服务下任一实例匹配即入选。
func (r *Registry) GetServicesOfServer(ctx context.Context, pageNo, pageSize int, opts naming.ListOptions) (out *naming.ListView[string], err error) {
	group := opts.Group()
	ctx, finish := r.begin(ctx, opListServices, group, "")
	defer func() { finish(err) }()

	fail := func(cause error) error {
		return naming.NewError(naming.ErrQuery, opListServices, "", cause)
	}

	if r.closed.Load() {
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

	getOpts := []clientv3.OpOption{clientv3.WithPrefix()}
	if matcher == nil {
		getOpts = append(getOpts, clientv3.WithKeysOnly())
	}

	var resp *clientv3.GetResponse
	if err := r.call(ctx, func() error {
		var err error
		resp, err = r.client.Get(ctx, r.keys.groupPrefix(group), getOpts...)
		return err
	}); err != nil {
		return nil, fail(xerrors.Wrap(err, "list services failed"))
	}

	services := make(map[string]struct{})
	for _, kv := range resp.Kvs {
		parts, ok := r.keys.parse(string(kv.Key))
		if !ok || parts.group != group {
			continue
		}
		if _, seen := services[parts.service]; seen {
			continue
		}
		if matcher != nil {
			inst, ok := r.decode(kv)
			if !ok || !matcher.Match(inst) {
				continue
			}
		}
		services[parts.service] = struct{}{}
	}

	return naming.Page(slices.Sorted(maps.Keys(services)), pageNo, pageSize), nil
}

// sortedInstances 按 Key 排序输出实例，保证结果稳定
func sortedInstances(entries map[string]instanceEntry) []*naming.Instance {
	out := make([]*naming.Instance, 0, len(entries))
	for _, key := range slices.Sorted(maps.Keys(entries)) {
		out = append(out, entries[key].instance)
	}
	return out
}

func cloneInstances(in []*naming.Instance) []*naming.Instance {
	out := make([]*naming.Instance, len(in))
	for i, inst := range in {
		out[i] = inst.Clone()
	}
	return out
}
