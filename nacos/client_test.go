package nacos

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/testkit"
)

// fakeAPI 记录调用参数的 SDK 替身
type fakeAPI struct {
	mu sync.Mutex

	registered   []vo.RegisterInstanceParam
	deregistered []vo.DeregisterInstanceParam
	getService   []vo.GetServiceParam
	selectAll    []vo.SelectAllInstancesParam
	subscribed   []*vo.SubscribeParam
	unsubscribed []*vo.SubscribeParam
	listed       []vo.GetAllServiceInfoParam
	closed       int

	ok       bool
	err      error
	hosts    map[string][]model.Instance // service -> hosts
	services []string
	healthy  bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{ok: true, healthy: true, hosts: make(map[string][]model.Instance)}
}

func (f *fakeAPI) RegisterInstance(param vo.RegisterInstanceParam) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, param)
	return f.ok, f.err
}

func (f *fakeAPI) DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered = append(f.deregistered, param)
	return f.ok, f.err
}

func (f *fakeAPI) GetService(param vo.GetServiceParam) (model.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getService = append(f.getService, param)
	return model.Service{Name: param.ServiceName, Hosts: f.hosts[param.ServiceName], LastRefTime: 1700000000000}, f.err
}

func (f *fakeAPI) SelectAllInstances(param vo.SelectAllInstancesParam) ([]model.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectAll = append(f.selectAll, param)
	return f.hosts[param.ServiceName], f.err
}

func (f *fakeAPI) Subscribe(param *vo.SubscribeParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, param)
	return f.err
}

func (f *fakeAPI) Unsubscribe(param *vo.SubscribeParam) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, param)
	return f.err
}

func (f *fakeAPI) GetAllServicesInfo(param vo.GetAllServiceInfoParam) (model.ServiceList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, param)
	start := int(param.PageNo-1) * int(param.PageSize)
	if start >= len(f.services) {
		return model.ServiceList{Count: int64(len(f.services))}, f.err
	}
	end := min(start+int(param.PageSize), len(f.services))
	return model.ServiceList{Count: int64(len(f.services)), Doms: f.services[start:end]}, f.err
}

func (f *fakeAPI) ServerHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeAPI) CloseClient() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func host(ip string, healthy, enabled bool, cluster string) model.Instance {
	return model.Instance{
		InstanceId:  ip + "#8080",
		Ip:          ip,
		Port:        8080,
		Weight:      1,
		Healthy:     healthy,
		Enable:      enabled,
		Ephemeral:   true,
		ClusterName: cluster,
		Metadata:    map[string]string{"env": "prod"},
	}
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	kit := testkit.NewKit(t)
	c, err := New(&Config{ServerAddrs: []string{"127.0.0.1:8848"}, Namespace: "dev"},
		withAPI(api), WithLogger(kit.Logger), WithMeter(kit.Meter))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type sliceListener []naming.Event

func (sliceListener) OnEvent(naming.Event) {}

func TestNew_RequiresServer(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrServerAddrRequired)

	_, err = New(&Config{}, withAPI(newFakeAPI()))
	assert.ErrorIs(t, err, ErrServerAddrRequired)
}

func TestClient_Register(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	inst := naming.NewInstance("10.0.0.1", 8080)
	inst.Weight = 2
	inst.Metadata = map[string]string{"version": "v1"}
	require.NoError(t, c.RegisterInstance(ctx, "orders", inst, naming.RegisterOptions{}))

	require.Len(t, api.registered, 1)
	assert.Equal(t, vo.RegisterInstanceParam{
		Ip:          "10.0.0.1",
		Port:        8080,
		Weight:      2,
		Enable:      true,
		Healthy:     true,
		Metadata:    map[string]string{"version": "v1"},
		ClusterName: naming.DefaultCluster,
		ServiceName: "orders",
		GroupName:   naming.DefaultGroup,
		Ephemeral:   true,
	}, api.registered[0])

	require.NoError(t, c.DeregisterInstance(ctx, "orders", inst, naming.RegisterOptions{GroupName: "g1"}))
	require.Len(t, api.deregistered, 1)
	assert.Equal(t, vo.DeregisterInstanceParam{
		Ip:          "10.0.0.1",
		Port:        8080,
		Cluster:     naming.DefaultCluster,
		ServiceName: "orders",
		GroupName:   "g1",
		Ephemeral:   true,
	}, api.deregistered[0])
}

func TestClient_RegisterFailures(t *testing.T) {
	ctx := context.Background()
	inst := naming.NewInstance("10.0.0.1", 8080)

	t.Run("服务端拒绝", func(t *testing.T) {
		api := newFakeAPI()
		api.ok = false
		c := newTestClient(t, api)

		err := c.RegisterInstance(ctx, "orders", inst, naming.RegisterOptions{})
		assert.ErrorIs(t, err, naming.ErrRegistration)
		assert.ErrorIs(t, err, ErrOperationRejected)

		err = c.DeregisterInstance(ctx, "orders", inst, naming.RegisterOptions{})
		assert.ErrorIs(t, err, naming.ErrRegistration)
		assert.ErrorIs(t, err, ErrOperationRejected)
	})

	t.Run("SDK 错误", func(t *testing.T) {
		api := newFakeAPI()
		api.err = errors.New("connection refused")
		c := newTestClient(t, api)

		err := c.RegisterInstance(ctx, "orders", inst, naming.RegisterOptions{})
		assert.ErrorIs(t, err, naming.ErrRegistration)
		assert.ErrorIs(t, err, api.err)
	})

	t.Run("参数非法", func(t *testing.T) {
		api := newFakeAPI()
		c := newTestClient(t, api)

		assert.ErrorIs(t, c.RegisterInstance(ctx, "", inst, naming.RegisterOptions{}), naming.ErrInvalidArgument)
		assert.ErrorIs(t, c.RegisterInstance(ctx, "a@@b", inst, naming.RegisterOptions{}), naming.ErrInvalidArgument)
		assert.ErrorIs(t, c.RegisterInstance(ctx, "orders", nil, naming.RegisterOptions{}), naming.ErrInvalidArgument)
		assert.ErrorIs(t, c.DeregisterInstance(ctx, "orders", nil, naming.RegisterOptions{}), naming.ErrInvalidArgument)
		assert.Empty(t, api.registered)
		assert.Empty(t, api.deregistered)
	})

	t.Run("上下文已取消", func(t *testing.T) {
		api := newFakeAPI()
		c := newTestClient(t, api)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := c.RegisterInstance(cctx, "orders", inst, naming.RegisterOptions{})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, api.registered)
	})
}

func TestClient_GetAllInstances(t *testing.T) {
	api := newFakeAPI()
	api.hosts["orders"] = []model.Instance{
		host("10.0.0.1", true, true, "bj"),
		host("10.0.0.2", false, true, "sh"),
	}
	c := newTestClient(t, api)
	ctx := context.Background()

	all, err := c.GetAllInstances(ctx, "orders", naming.QueryOptions{NoSubscribe: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "orders", all[0].ServiceName)
	assert.Equal(t, naming.DefaultGroup, all[0].GroupName)
	assert.Equal(t, "10.0.0.1#8080", all[0].InstanceID)
	assert.Equal(t, "prod", all[0].Metadata["env"])
	assert.Len(t, api.getService, 1)
	assert.Empty(t, api.selectAll)

	subs, err := c.GetSubscribeServices(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	bj, err := c.GetAllInstances(ctx, "orders", naming.QueryOptions{Clusters: []string{"bj"}})
	require.NoError(t, err)
	require.Len(t, bj, 1)
	assert.Equal(t, "10.0.0.1", bj[0].IP)
	require.Len(t, api.selectAll, 1)
	assert.Equal(t, vo.SelectAllInstancesParam{Clusters: []string{"bj"}, ServiceName: "orders", GroupName: naming.DefaultGroup}, api.selectAll[0])

	subs, err = c.GetSubscribeServices(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "bj", subs[0].Clusters)
	assert.Len(t, subs[0].Instances, 1)
	assert.Equal(t, int64(1700000000000), subs[0].LastRefTime.UnixMilli())
}

func TestClient_SelectInstances(t *testing.T) {
	api := newFakeAPI()
	disabled := host("10.0.0.3", true, false, "DEFAULT")
	zero := host("10.0.0.4", true, true, "DEFAULT")
	zero.Weight = 0
	api.hosts["orders"] = []model.Instance{
		host("10.0.0.1", true, true, "DEFAULT"),
		host("10.0.0.2", false, true, "DEFAULT"),
		disabled,
		zero,
	}
	c := newTestClient(t, api)
	ctx := context.Background()

	for _, noSubscribe := range []bool{true, false} {
		opts := naming.QueryOptions{NoSubscribe: noSubscribe}
		healthy, err := c.SelectInstances(ctx, "orders", true, opts)
		require.NoError(t, err)
		require.Len(t, healthy, 1)
		assert.Equal(t, "10.0.0.1", healthy[0].IP)

		unhealthy, err := c.SelectInstances(ctx, "orders", false, opts)
		require.NoError(t, err)
		require.Len(t, unhealthy, 1)
		assert.Equal(t, "10.0.0.2", unhealthy[0].IP)

		// 没有实例的服务在两种模式下都返回空列表
		empty, err := c.SelectInstances(ctx, "empty", true, opts)
		require.NoError(t, err, "noSubscribe=%v", noSubscribe)
		assert.Empty(t, empty)
	}
	assert.Len(t, api.getService, 3)
	assert.Len(t, api.selectAll, 3)

	one, err := c.SelectOneHealthyInstance(ctx, "orders", naming.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", one.IP)

	_, err = c.SelectOneHealthyInstance(ctx, "missing", naming.QueryOptions{})
	assert.ErrorIs(t, err, naming.ErrNoAvailableInstance)

	api.err = errors.New("timeout")
	_, err = c.SelectInstances(ctx, "orders", true, naming.QueryOptions{})
	assert.ErrorIs(t, err, naming.ErrQuery)
	assert.ErrorIs(t, err, api.err)
}

type recordingListener struct {
	mu     sync.Mutex
	events []naming.Event
}

func (l *recordingListener) OnEvent(event naming.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestClient_Subscribe(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()
	listener := &recordingListener{}
	opts := naming.SubscribeOptions{GroupName: "g1", Clusters: []string{"sh", "bj"}}

	require.NoError(t, c.Subscribe(ctx, "orders", listener, opts))
	require.NoError(t, c.Subscribe(ctx, "orders", listener, naming.SubscribeOptions{GroupName: "g1", Clusters: []string{"bj", "sh"}}))
	require.Len(t, api.subscribed, 1)

	param := api.subscribed[0]
	assert.Equal(t, "orders", param.ServiceName)
	assert.Equal(t, "g1", param.GroupName)
	assert.Equal(t, []string{"sh", "bj"}, param.Clusters)

	param.SubscribeCallback([]model.Instance{
		host("10.0.0.1", true, true, "bj"),
		host("10.0.0.2", true, true, "gz"),
	}, nil)
	param.SubscribeCallback(nil, errors.New("push failed"))

	require.Equal(t, 1, listener.count())
	ev := listener.events[0]
	assert.Equal(t, "orders", ev.ServiceName)
	assert.Equal(t, "g1", ev.GroupName)
	assert.Equal(t, "bj,sh", ev.Clusters)
	require.Len(t, ev.Instances, 1)
	assert.Equal(t, "10.0.0.1", ev.Instances[0].IP)

	subs, err := c.GetSubscribeServices(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "g1@@orders@@bj,sh", subs[0].Key())

	require.NoError(t, c.Unsubscribe(ctx, "orders", listener, opts))
	require.Len(t, api.unsubscribed, 1)
	assert.Same(t, param, api.unsubscribed[0])

	// 取消后的回调不再通知，重复取消是空操作
	param.SubscribeCallback([]model.Instance{host("10.0.0.1", true, true, "bj")}, nil)
	assert.Equal(t, 1, listener.count())
	require.NoError(t, c.Unsubscribe(ctx, "orders", listener, opts))
	assert.Len(t, api.unsubscribed, 1)
}

func TestClient_SubscribeErrors(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	err := c.Subscribe(ctx, "orders", nil, naming.SubscribeOptions{})
	assert.ErrorIs(t, err, naming.ErrSubscription)
	assert.ErrorIs(t, err, naming.ErrInvalidArgument)

	err = c.Subscribe(ctx, "orders", sliceListener{}, naming.SubscribeOptions{})
	assert.ErrorIs(t, err, naming.ErrInvalidArgument)

	api.err = errors.New("server unavailable")
	listener := &recordingListener{}
	err = c.Subscribe(ctx, "orders", listener, naming.SubscribeOptions{})
	assert.ErrorIs(t, err, naming.ErrSubscription)

	// 失败的订阅不会被记录，恢复后可以重新订阅
	api.err = nil
	require.NoError(t, c.Subscribe(ctx, "orders", listener, naming.SubscribeOptions{}))
	assert.Len(t, api.subscribed, 2)
}

func TestClient_GetServicesOfServer(t *testing.T) {
	api := newFakeAPI()
	api.services = []string{"gamma", "alpha", "beta"}
	api.hosts["alpha"] = []model.Instance{host("10.0.0.1", true, true, "DEFAULT")}
	dev := host("10.0.0.2", true, true, "DEFAULT")
	dev.Metadata = map[string]string{"env": "dev"}
	api.hosts["beta"] = []model.Instance{dev}
	api.hosts["gamma"] = []model.Instance{host("10.0.0.3", true, true, "DEFAULT")}
	c := newTestClient(t, api)
	ctx := context.Background()

	page, err := c.GetServicesOfServer(ctx, 1, 2, naming.ListOptions{GroupName: "g1"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, []string{"gamma", "alpha"}, page.Items)
	assert.Equal(t, vo.GetAllServiceInfoParam{NameSpace: "dev", GroupName: "g1", PageNo: 1, PageSize: 2}, api.listed[0])

	page, err = c.GetServicesOfServer(ctx, 3, 2, naming.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{}, page.Items)

	page, err = c.GetServicesOfServer(ctx, 1, 10, naming.ListOptions{Selector: naming.MustLabelSelector("env=prod")})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, []string{"alpha", "gamma"}, page.Items)

	_, err = c.GetServicesOfServer(ctx, 0, 10, naming.ListOptions{})
	assert.ErrorIs(t, err, naming.ErrInvalidArgument)
}

func TestClient_StatusAndClose(t *testing.T) {
	api := newFakeAPI()
	c := newTestClient(t, api)
	ctx := context.Background()

	assert.Equal(t, naming.StatusUp, c.GetServerStatus(ctx))
	api.healthy = false
	assert.Equal(t, naming.StatusDown, c.GetServerStatus(ctx))
	api.healthy = true

	listener := &recordingListener{}
	require.NoError(t, c.Subscribe(ctx, "orders", listener, naming.SubscribeOptions{}))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, api.closed)
	assert.Len(t, api.unsubscribed, 1)
	assert.Equal(t, naming.StatusDown, c.GetServerStatus(ctx))

	_, err := c.GetAllInstances(ctx, "orders", naming.QueryOptions{})
	assert.ErrorIs(t, err, naming.ErrClientClosed)
	assert.ErrorIs(t, c.RegisterInstance(ctx, "orders", naming.NewInstance("10.0.0.1", 80), naming.RegisterOptions{}), naming.ErrClientClosed)
	assert.ErrorIs(t, c.Subscribe(ctx, "orders", listener, naming.SubscribeOptions{}), naming.ErrClientClosed)
	_, err = c.GetSubscribeServices(ctx)
	assert.ErrorIs(t, err, naming.ErrClientClosed)
}
