package naming

import (
	"context"
	"sync"
)

// call 记录一次转发到底层 Client 的调用
type call struct {
	Method   string
	Service  string
	Instance *Instance
	Healthy  bool
	PageNo   int
	PageSize int
	Listener EventListener
	Register RegisterOptions
	Query    QueryOptions
	Sub      SubscribeOptions
	List     ListOptions
	Ctx      context.Context
}

type subKey struct {
	service string
	group   string
}

// recorder 记录调用的测试替身，返回值由测试预先设定
type recorder struct {
	mu    sync.Mutex
	calls []call

	err        error
	instances  []*Instance
	one        *Instance
	page       *ListView[string]
	subscribed []*ServiceInfo
	status     string
	closeErr   error

	subscriptions map[subKey]bool
}

func newRecorder() *recorder {
	return &recorder{status: StatusUp, subscriptions: map[subKey]bool{}}
}

func (r *recorder) record(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) Calls() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recorder) last() call {
	calls := r.Calls()
	return calls[len(calls)-1]
}

func (r *recorder) setInstances(instances []*Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = instances
}

func (r *recorder) isSubscribed(service, group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions[subKey{service, group}]
}

func (r *recorder) RegisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error {
	r.record(call{Method: "RegisterInstance", Ctx: ctx, Service: serviceName, Instance: instance, Register: opts})
	return r.err
}

func (r *recorder) DeregisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error {
	r.record(call{Method: "DeregisterInstance", Ctx: ctx, Service: serviceName, Instance: instance, Register: opts})
	return r.err
}

func (r *recorder) GetAllInstances(ctx context.Context, serviceName string, opts QueryOptions) ([]*Instance, error) {
	r.record(call{Method: "GetAllInstances", Ctx: ctx, Service: serviceName, Query: opts})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if opts.Subscribed() {
		r.subscriptions[subKey{serviceName, opts.GroupName}] = true
	}
	return r.instances, nil
}

func (r *recorder) SelectInstances(ctx context.Context, serviceName string, healthy bool, opts QueryOptions) ([]*Instance, error) {
	r.record(call{Method: "SelectInstances", Ctx: ctx, Service: serviceName, Healthy: healthy, Query: opts})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return FilterInstances(r.instances, healthy), nil
}

func (r *recorder) SelectOneHealthyInstance(ctx context.Context, serviceName string, opts QueryOptions) (*Instance, error) {
	r.record(call{Method: "SelectOneHealthyInstance", Ctx: ctx, Service: serviceName, Query: opts})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.one != nil {
		return r.one, nil
	}
	if inst := (WeightedRandom{}).Pick(r.instances); inst != nil {
		return inst, nil
	}
	return nil, NewError(ErrNoAvailableInstance, "select_one", GroupedName(opts.GroupName, serviceName), nil)
}

func (r *recorder) Subscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error {
	r.record(call{Method: "Subscribe", Ctx: ctx, Service: serviceName, Listener: listener, Sub: opts})
	return r.err
}

func (r *recorder) Unsubscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error {
	r.record(call{Method: "Unsubscribe", Ctx: ctx, Service: serviceName, Listener: listener, Sub: opts})
	return r.err
}

func (r *recorder) GetServicesOfServer(ctx context.Context, pageNo, pageSize int, opts ListOptions) (*ListView[string], error) {
	r.record(call{Method: "GetServicesOfServer", Ctx: ctx, PageNo: pageNo, PageSize: pageSize, List: opts})
	if r.err != nil {
		return nil, r.err
	}
	return r.page, nil
}

func (r *recorder) GetSubscribeServices(ctx context.Context) ([]*ServiceInfo, error) {
	r.record(call{Method: "GetSubscribeServices", Ctx: ctx})
	if r.err != nil {
		return nil, r.err
	}
	return r.subscribed, nil
}

func (r *recorder) GetServerStatus(ctx context.Context) string {
	r.record(call{Method: "GetServerStatus", Ctx: ctx})
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *recorder) Close() error {
	r.record(call{Method: "Close"})
	return r.closeErr
}
