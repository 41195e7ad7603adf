package registry

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/naming/naming"
)

// stubClient 仅实现 resolver 用到的订阅与查询
type stubClient struct {
	naming.Client

	mu           sync.Mutex
	instances    []*naming.Instance
	listener     naming.EventListener
	subOpts      naming.SubscribeOptions
	queryOpts    naming.QueryOptions
	queries      int
	unsubscribed int
}

func (c *stubClient) Subscribe(_ context.Context, _ string, listener naming.EventListener, opts naming.SubscribeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
	c.subOpts = opts
	return nil
}

func (c *stubClient) Unsubscribe(_ context.Context, _ string, listener naming.EventListener, _ naming.SubscribeOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if listener == c.listener {
		c.unsubscribed++
	}
	return nil
}

func (c *stubClient) SelectInstances(_ context.Context, _ string, healthy bool, opts naming.QueryOptions) ([]*naming.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queryOpts = opts
	c.queries++
	return naming.FilterInstances(c.instances, healthy), nil
}

func (c *stubClient) push(instances ...*naming.Instance) {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()
	listener.OnEvent(naming.Event{Instances: instances})
}

// fakeClientConn 记录 resolver 推送的状态
type fakeClientConn struct {
	resolver.ClientConn

	mu     sync.Mutex
	states []resolver.State
	errs   []error
}

func (cc *fakeClientConn) UpdateState(s resolver.State) error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.states = append(cc.states, s)
	return nil
}

func (cc *fakeClientConn) ReportError(err error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.errs = append(cc.errs, err)
}

func (cc *fakeClientConn) lastAddrs() []string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if len(cc.states) == 0 {
		return nil
	}
	var out []string
	for _, a := range cc.states[len(cc.states)-1].Addresses {
		out = append(out, a.Addr)
	}
	return out
}

func (cc *fakeClientConn) stateCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.states)
}

func (cc *fakeClientConn) errCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.errs)
}

func buildResolver(t *testing.T, client naming.Client, target string, opts ...ResolverOption) (resolver.Resolver, *fakeClientConn) {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)

	cc := &fakeClientConn{}
	res, err := NewResolverBuilder(client, opts...).Build(resolver.Target{URL: *u}, cc, resolver.BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(res.Close)
	return res, cc
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "naming:///orders", Target("orders", "", nil))
	assert.Equal(t, "naming:///orders?clusters=bj%2Csh&group=g1", Target("orders", "g1", []string{"sh", "bj"}))
}

func TestResolver_Build(t *testing.T) {
	client := &stubClient{}
	unhealthy := naming.NewInstance("10.0.0.3", 8080)
	unhealthy.Healthy = false
	client.instances = []*naming.Instance{
		naming.NewInstance("10.0.0.2", 8080),
		naming.NewInstance("10.0.0.1", 8080),
		unhealthy,
	}

	_, cc := buildResolver(t, client, Target("orders", "g1", []string{"bj"}))

	require.Eventually(t, func() bool { return len(cc.lastAddrs()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.1:8080", "10.0.0.2:8080"}, cc.lastAddrs())

	client.mu.Lock()
	assert.Equal(t, naming.SubscribeOptions{GroupName: "g1", Clusters: []string{"bj"}}, client.subOpts)
	// resolver 自身持有订阅，查询不再额外建立监听
	assert.Equal(t, naming.QueryOptions{GroupName: "g1", Clusters: []string{"bj"}, NoSubscribe: true}, client.queryOpts)
	client.mu.Unlock()
}

func TestResolver_Events(t *testing.T) {
	client := &stubClient{}
	_, cc := buildResolver(t, client, Target("orders", "", nil))

	// 初次解析没有实例，上报错误
	require.Eventually(t, func() bool { return cc.errCount() == 1 }, time.Second, 10*time.Millisecond)

	disabled := naming.NewInstance("10.0.0.9", 8080)
	disabled.Enabled = false
	client.push(
		naming.NewInstance("10.0.0.2", 8080),
		naming.NewInstance("10.0.0.2", 8080),
		naming.NewInstance("10.0.0.1", 8080),
		disabled,
	)
	assert.Equal(t, []string{"10.0.0.1:8080", "10.0.0.2:8080"}, cc.lastAddrs())

	// 实例全部下线时清空地址，gRPC 不再连接旧地址
	states := cc.stateCount()
	client.push()
	assert.Equal(t, states+1, cc.stateCount())
	assert.Empty(t, cc.lastAddrs())
	assert.Equal(t, 2, cc.errCount())
	assert.ErrorIs(t, cc.errs[1], naming.ErrNoAvailableInstance)
}

func TestResolver_Close(t *testing.T) {
	client := &stubClient{}
	res, cc := buildResolver(t, client, Target("orders", "", nil))
	require.Eventually(t, func() bool { return cc.errCount() == 1 }, time.Second, 10*time.Millisecond)

	res.Close()
	res.Close()

	client.mu.Lock()
	assert.Equal(t, 1, client.unsubscribed)
	client.mu.Unlock()

	// 关闭后的推送被忽略
	client.push(naming.NewInstance("10.0.0.1", 8080))
	assert.Empty(t, cc.lastAddrs())
}

func TestResolver_ResolveNowThrottled(t *testing.T) {
	client := &stubClient{}
	res, cc := buildResolver(t, client, Target("orders", "", nil), WithResolveInterval(time.Hour))
	require.Eventually(t, func() bool { return cc.errCount() == 1 }, time.Second, 10*time.Millisecond)

	for range 5 {
		res.ResolveNow(resolver.ResolveNowOptions{})
	}
	time.Sleep(50 * time.Millisecond)

	client.mu.Lock()
	assert.Equal(t, 1, client.queries)
	client.mu.Unlock()
	assert.Equal(t, 1, cc.errCount())
}

func TestDial_RequiresOptions(t *testing.T) {
	ctx := context.Background()

	_, err := Dial(ctx, nil, "orders")
	assert.Error(t, err)

	_, err = Dial(ctx, &stubClient{}, "")
	assert.Error(t, err)

	_, err = Dial(ctx, &stubClient{}, "orders")
	assert.Error(t, err)

	conn, err := Dial(ctx, &stubClient{}, "orders", WithDialOptions(grpc.WithTransportCredentials(insecure.NewCredentials())))
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}
