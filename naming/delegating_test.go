package naming

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

type staticSelector struct{ expr string }

func (s staticSelector) Type() string       { return "custom" }
func (s staticSelector) Expression() string { return s.expr }

func newFacade(t *testing.T) (*Delegating, *recorder) {
	t.Helper()
	rec := newRecorder()
	md := NewMetadata(map[string]string{KeyEndpoint: "host:8848", KeyNamespace: "ns1"})
	return NewDelegating(rec, md), rec
}

func TestDelegating_ArgumentFidelity(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
	inst := NewInstance("1.2.3.4", 8080)
	listener := NewListener(func(Event) {})
	sel := staticSelector{expr: "env=prod"}

	tests := []struct {
		name   string
		invoke func(d *Delegating)
		want   call
	}{
		{
			name:   "注册使用默认分组",
			invoke: func(d *Delegating) { _ = d.RegisterInstance(ctx, "orders", inst, RegisterOptions{}) },
			want:   call{Method: "RegisterInstance", Service: "orders", Instance: inst},
		},
		{
			name:   "注册指定分组",
			invoke: func(d *Delegating) { _ = d.RegisterInstance(ctx, "orders", inst, RegisterOptions{GroupName: "g1"}) },
			want:   call{Method: "RegisterInstance", Service: "orders", Instance: inst, Register: RegisterOptions{GroupName: "g1"}},
		},
		{
			name:   "注销调用注销",
			invoke: func(d *Delegating) { _ = d.DeregisterInstance(ctx, "orders", inst, RegisterOptions{GroupName: "g1"}) },
			want:   call{Method: "DeregisterInstance", Service: "orders", Instance: inst, Register: RegisterOptions{GroupName: "g1"}},
		},
		{
			name: "查询携带集群与订阅标志",
			invoke: func(d *Delegating) {
				_, _ = d.GetAllInstances(ctx, "orders", QueryOptions{GroupName: "g1", Clusters: []string{"c1", "c2"}, NoSubscribe: true})
			},
			want: call{Method: "GetAllInstances", Service: "orders", Query: QueryOptions{GroupName: "g1", Clusters: []string{"c1", "c2"}, NoSubscribe: true}},
		},
		{
			name:   "查询零值选项不被填充",
			invoke: func(d *Delegating) { _, _ = d.GetAllInstances(ctx, "orders", QueryOptions{}) },
			want:   call{Method: "GetAllInstances", Service: "orders"},
		},
		{
			name:   "筛选不健康实例",
			invoke: func(d *Delegating) { _, _ = d.SelectInstances(ctx, "orders", false, QueryOptions{Clusters: []string{"c1"}}) },
			want:   call{Method: "SelectInstances", Service: "orders", Healthy: false, Query: QueryOptions{Clusters: []string{"c1"}}},
		},
		{
			name:   "筛选健康实例",
			invoke: func(d *Delegating) { _, _ = d.SelectInstances(ctx, "orders", true, QueryOptions{}) },
			want:   call{Method: "SelectInstances", Service: "orders", Healthy: true},
		},
		{
			name:   "选取单个实例",
			invoke: func(d *Delegating) { _, _ = d.SelectOneHealthyInstance(ctx, "orders", QueryOptions{GroupName: "g2"}) },
			want:   call{Method: "SelectOneHealthyInstance", Service: "orders", Query: QueryOptions{GroupName: "g2"}},
		},
		{
			name: "订阅",
			invoke: func(d *Delegating) {
				_ = d.Subscribe(ctx, "orders", listener, SubscribeOptions{GroupName: "g1", Clusters: []string{"c1"}})
			},
			want: call{Method: "Subscribe", Service: "orders", Listener: listener, Sub: SubscribeOptions{GroupName: "g1", Clusters: []string{"c1"}}},
		},
		{
			name:   "取消订阅",
			invoke: func(d *Delegating) { _ = d.Unsubscribe(ctx, "orders", listener, SubscribeOptions{}) },
			want:   call{Method: "Unsubscribe", Service: "orders", Listener: listener},
		},
		{
			name:   "分页列举携带选择器",
			invoke: func(d *Delegating) { _, _ = d.GetServicesOfServer(ctx, 3, 25, ListOptions{GroupName: "g1", Selector: sel}) },
			want:   call{Method: "GetServicesOfServer", PageNo: 3, PageSize: 25, List: ListOptions{GroupName: "g1", Selector: sel}},
		},
		{
			name:   "分页参数原样转发",
			invoke: func(d *Delegating) { _, _ = d.GetServicesOfServer(ctx, 0, -1, ListOptions{}) },
			want:   call{Method: "GetServicesOfServer", PageNo: 0, PageSize: -1},
		},
		{
			name:   "已订阅服务",
			invoke: func(d *Delegating) { _, _ = d.GetSubscribeServices(ctx) },
			want:   call{Method: "GetSubscribeServices"},
		},
		{
			name:   "服务端状态",
			invoke: func(d *Delegating) { _ = d.GetServerStatus(ctx) },
			want:   call{Method: "GetServerStatus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facade, rec := newFacade(t)
			tt.invoke(facade)

			calls := rec.Calls()
			require.Len(t, calls, 1)
			got := calls[0]
			assert.Same(t, ctx, got.Ctx, "context 必须原样传递")
			got.Ctx = nil
			assert.Equal(t, tt.want, got)
			if tt.want.Instance != nil {
				assert.Same(t, tt.want.Instance, got.Instance)
			}
		})
	}
}

func TestDelegating_ForwardingTransparency(t *testing.T) {
	ctx := context.Background()
	instances := []*Instance{
		{IP: "1.2.3.4", Port: 8080, Healthy: true, Enabled: true, Weight: 1},
		{IP: "1.2.3.5", Port: 8080, Healthy: false, Enabled: true, Weight: 1},
	}

	facade, rec := newFacade(t)
	rec.instances = instances
	rec.one = instances[0]
	rec.page = &ListView[string]{Items: []string{"orders"}, Count: 1}
	rec.subscribed = []*ServiceInfo{{Name: "orders", GroupName: DefaultGroup}}
	rec.status = StatusDown

	direct := newRecorder()
	direct.instances, direct.one, direct.page, direct.subscribed, direct.status =
		rec.instances, rec.one, rec.page, rec.subscribed, rec.status

	gotAll, err := facade.GetAllInstances(ctx, "orders", QueryOptions{})
	require.NoError(t, err)
	wantAll, _ := direct.GetAllInstances(ctx, "orders", QueryOptions{})
	assert.Equal(t, wantAll, gotAll)
	assert.Same(t, instances[0], gotAll[0])

	gotSel, err := facade.SelectInstances(ctx, "orders", false, QueryOptions{})
	require.NoError(t, err)
	wantSel, _ := direct.SelectInstances(ctx, "orders", false, QueryOptions{})
	assert.Equal(t, wantSel, gotSel)

	gotOne, err := facade.SelectOneHealthyInstance(ctx, "orders", QueryOptions{})
	require.NoError(t, err)
	assert.Same(t, instances[0], gotOne)

	gotPage, err := facade.GetServicesOfServer(ctx, 1, 10, ListOptions{})
	require.NoError(t, err)
	assert.Same(t, rec.page, gotPage)

	gotSubs, err := facade.GetSubscribeServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec.subscribed, gotSubs)

	assert.Equal(t, direct.GetServerStatus(ctx), facade.GetServerStatus(ctx))
}

func TestDelegating_ErrorsReturnedVerbatim(t *testing.T) {
	ctx := context.Background()
	inst := NewInstance("1.2.3.4", 8080)
	listener := NewListener(func(Event) {})
	cause := NewError(ErrQuery, "get_all", "DEFAULT_GROUP@@orders", errors.New("connection refused"))

	facade, rec := newFacade(t)
	rec.err = cause

	errs := map[string]error{}
	errs["register"] = facade.RegisterInstance(ctx, "orders", inst, RegisterOptions{})
	errs["deregister"] = facade.DeregisterInstance(ctx, "orders", inst, RegisterOptions{})
	_, errs["get_all"] = facade.GetAllInstances(ctx, "orders", QueryOptions{})
	_, errs["select"] = facade.SelectInstances(ctx, "orders", true, QueryOptions{})
	_, errs["select_one"] = facade.SelectOneHealthyInstance(ctx, "orders", QueryOptions{})
	errs["subscribe"] = facade.Subscribe(ctx, "orders", listener, SubscribeOptions{})
	errs["unsubscribe"] = facade.Unsubscribe(ctx, "orders", listener, SubscribeOptions{})
	_, errs["list"] = facade.GetServicesOfServer(ctx, 1, 10, ListOptions{})
	_, errs["subscribed"] = facade.GetSubscribeServices(ctx)

	for op, err := range errs {
		assert.Same(t, cause, err, op)
	}
}

func TestDelegating_MetadataImmutability(t *testing.T) {
	props := map[string]string{KeyEndpoint: "host:8848", KeyNamespace: "ns1"}
	md := NewMetadata(props)
	rec := newRecorder()
	facade := NewDelegating(rec, md)

	first := facade.Metadata()
	for range 10 {
		assert.Same(t, first, facade.Metadata())
	}

	// 调用方修改原始 map 或 Properties 的副本都不影响元数据
	props[KeyNamespace] = "changed"
	facade.Metadata().Properties()[KeyEndpoint] = "changed"

	_ = facade.RegisterInstance(context.Background(), "orders", NewInstance("1.2.3.4", 8080), RegisterOptions{})
	_ = facade.GetServerStatus(context.Background())

	assert.Same(t, md, facade.Metadata())
	assert.Equal(t, map[string]string{KeyEndpoint: "host:8848", KeyNamespace: "ns1"}, facade.Metadata().Properties())
}

func TestDelegating_NilMetadata(t *testing.T) {
	facade := NewDelegating(newRecorder(), nil)
	require.NotNil(t, facade.Metadata())
	assert.Equal(t, 0, facade.Metadata().Len())
	assert.Same(t, facade.Metadata(), facade.Metadata())
}

func TestDelegating_NoCaching(t *testing.T) {
	ctx := context.Background()
	facade, rec := newFacade(t)

	rec.setInstances([]*Instance{{IP: "1.2.3.4", Port: 8080, Healthy: true}})
	first, err := facade.GetAllInstances(ctx, "orders", QueryOptions{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	rec.setInstances([]*Instance{{IP: "1.2.3.4", Port: 8080, Healthy: true}, {IP: "1.2.3.5", Port: 8080, Healthy: true}})
	second, err := facade.GetAllInstances(ctx, "orders", QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, second, 2)
	assert.Len(t, rec.Calls(), 2)
}

func TestDelegating_ServerStatusIdempotent(t *testing.T) {
	facade, rec := newFacade(t)
	ctx := context.Background()
	for range 5 {
		assert.Equal(t, StatusUp, facade.GetServerStatus(ctx))
	}
	rec.mu.Lock()
	rec.status = StatusDown
	rec.mu.Unlock()
	assert.Equal(t, StatusDown, facade.GetServerStatus(ctx))
}

func TestDelegating_Close(t *testing.T) {
	facade, rec := newFacade(t)
	rec.closeErr = errors.New("already closed")

	assert.Same(t, rec.closeErr, facade.Close())
	assert.Equal(t, "Close", rec.last().Method)
}

func TestDelegating_Concurrent(t *testing.T) {
	facade, rec := newFacade(t)
	ctx := context.Background()
	md := facade.Metadata()

	const workers = 16
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = facade.RegisterInstance(ctx, "orders", NewInstance("10.0.0.1", 8000+i), RegisterOptions{})
			_, _ = facade.GetAllInstances(ctx, "orders", QueryOptions{})
			assert.Same(t, md, facade.Metadata())
		}(i)
	}
	wg.Wait()
	assert.Len(t, rec.Calls(), workers*2)
}

func TestDelegating_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("注册记录默认分组与地址", func(t *testing.T) {
		facade, rec := newFacade(t)
		err := facade.RegisterInstance(ctx, "orders", NewInstance("1.2.3.4", 8080), RegisterOptions{})
		require.NoError(t, err)

		got := rec.last()
		assert.Equal(t, "RegisterInstance", got.Method)
		assert.Equal(t, "orders", got.Service)
		assert.Equal(t, DefaultGroup, got.Register.Group())
		assert.Equal(t, "1.2.3.4", got.Instance.IP)
		assert.Equal(t, 8080, got.Instance.Port)
	})

	t.Run("查询并订阅", func(t *testing.T) {
		facade, rec := newFacade(t)
		want := []*Instance{{IP: "1.2.3.4", Port: 8080, Healthy: true}}
		rec.setInstances(want)

		got, err := facade.GetAllInstances(ctx, "orders", QueryOptions{GroupName: "g1"})
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Same(t, want[0], got[0])
		assert.True(t, rec.isSubscribed("orders", "g1"))
	})

	t.Run("显式关闭订阅只查询", func(t *testing.T) {
		facade, rec := newFacade(t)
		rec.setInstances([]*Instance{{IP: "1.2.3.4", Port: 8080, Healthy: true}})

		_, err := facade.GetAllInstances(ctx, "orders", QueryOptions{GroupName: "g1", NoSubscribe: true})
		require.NoError(t, err)
		assert.False(t, rec.isSubscribed("orders", "g1"))
	})

	t.Run("没有健康实例时选取失败", func(t *testing.T) {
		facade, rec := newFacade(t)
		rec.setInstances([]*Instance{{IP: "1.2.3.4", Port: 8080, Healthy: false, Enabled: true, Weight: 1}})

		inst, err := facade.SelectOneHealthyInstance(ctx, "orders", QueryOptions{})
		require.Error(t, err)
		assert.Nil(t, inst)
		assert.ErrorIs(t, err, ErrNoAvailableInstance)
		var re *RegistryError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "select_one", re.Op)
	})

	t.Run("分页结果原样返回", func(t *testing.T) {
		facade, rec := newFacade(t)
		rec.page = &ListView[string]{Items: []string{"orders", "billing"}, Count: 2}
		sel := MustLabelSelector("env=prod")

		page, err := facade.GetServicesOfServer(ctx, 1, 10, ListOptions{Selector: sel})
		require.NoError(t, err)
		assert.Same(t, rec.page, page)
		assert.Equal(t, []string{"orders", "billing"}, page.Items)
		assert.Equal(t, 2, page.Count)
		assert.Same(t, sel, rec.last().List.Selector)
	})

	t.Run("元数据在其它操作之后不变", func(t *testing.T) {
		facade, _ := newFacade(t)
		before := facade.Metadata()

		_ = facade.RegisterInstance(ctx, "orders", NewInstance("1.2.3.4", 8080), RegisterOptions{})
		_, _ = facade.GetAllInstances(ctx, "orders", QueryOptions{})
		_ = facade.GetServerStatus(ctx)

		after := facade.Metadata()
		assert.Same(t, before, after)
		assert.Equal(t, "host:8848", after.Get(KeyEndpoint))
		assert.Equal(t, "ns1", after.Get(KeyNamespace))
		assert.Equal(t, 2, after.Len())
	})
}
