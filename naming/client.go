package naming

import (
	"context"
	"io"
)

// Client 注册中心客户端能力
//
// 每个方法的第一个参数是 context.Context，超时与取消由实现负责。
// 失败以 *RegistryError 返回，可用 errors.Is 判断类别：
// ErrRegistration、ErrQuery、ErrNoAvailableInstance、ErrSubscription。
type Client interface {
	// RegisterInstance 注册实例，同一身份重复注册覆盖旧值
	RegisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error

	// DeregisterInstance 注销实例，实例不存在时的语义由实现决定
	DeregisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error

	// GetAllInstances 返回全部匹配实例，除非 opts.NoSubscribe，否则同时建立监听
	GetAllInstances(ctx context.Context, serviceName string, opts QueryOptions) ([]*Instance, error)

	// SelectInstances 返回 Healthy == healthy、启用且权重为正的实例
	SelectInstances(ctx context.Context, serviceName string, healthy bool, opts QueryOptions) ([]*Instance, error)

	// SelectOneHealthyInstance 按负载均衡策略选出一个健康实例，
	// 没有可用实例时返回 ErrNoAvailableInstance
	SelectOneHealthyInstance(ctx context.Context, serviceName string, opts QueryOptions) (*Instance, error)

	// Subscribe 注册监听器，实例集合变化时由 Client 调用 listener.OnEvent
	Subscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error

	// Unsubscribe 移除监听器，listener 须与 Subscribe 时传入的值相等
	Unsubscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error

	// GetServicesOfServer 分页列举服务名，pageNo 从 1 开始
	GetServicesOfServer(ctx context.Context, pageNo, pageSize int, opts ListOptions) (*ListView[string], error)

	// GetSubscribeServices 返回当前会话正在监听的服务
	GetSubscribeServices(ctx context.Context) ([]*ServiceInfo, error)

	// GetServerStatus 返回 StatusUp 或 StatusDown，从不返回错误
	GetServerStatus(ctx context.Context) string

	// Close 释放客户端持有的连接与后台任务
	io.Closer
}

// MetadataProvider 能够提供构造元数据的组件
type MetadataProvider interface {
	Metadata() *Metadata
}

// Event 订阅服务的实例集合变化通知，Instances 为变化后的完整列表
type Event struct {
	ServiceName string
	GroupName   string
	Clusters    string
	Instances   []*Instance
}

// EventListener 实例变化监听器，由 Client 调用，调用是串行的
type EventListener interface {
	OnEvent(event Event)
}

// ListenerFunc 函数形式的监听器
//
// 函数值不可比较，订阅时应使用 NewListener 返回的指针，以便取消订阅时匹配。
type ListenerFunc func(event Event)

// listenerFunc 包装 ListenerFunc 的可比较监听器
type listenerFunc struct {
	fn ListenerFunc
}

func (l *listenerFunc) OnEvent(event Event) {
	l.fn(event)
}

// NewListener 将函数包装为可比较的 EventListener
func NewListener(fn ListenerFunc) EventListener {
	return &listenerFunc{fn: fn}
}
