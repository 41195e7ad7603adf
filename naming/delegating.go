package naming

import (
	"context"
)

// Delegating 携带元数据的注册中心门面
//
// 所有发现操作原样转发给底层 Client：参数、返回值与错误值都不做任何变换，
// 也不做重试、缓存、日志或默认值填充。门面唯一自有的状态是构造时传入的
// Metadata，它不可变，因此 Delegating 可被多个 goroutine 并发使用，
// 并发安全性完全取决于底层 Client。
//
// 基本使用：
//
//	md := naming.NewMetadata(map[string]string{naming.KeyServerAddr: "127.0.0.1:8848"})
//	facade := naming.NewDelegating(client, md)
//	err := facade.RegisterInstance(ctx, "orders", naming.NewInstance("10.0.0.1", 8080), naming.RegisterOptions{})
type Delegating struct {
	delegate Client
	metadata *Metadata
}

var (
	_ Client           = (*Delegating)(nil)
	_ MetadataProvider = (*Delegating)(nil)
)

// NewDelegating 创建门面，md 为 nil 时使用空元数据
func NewDelegating(delegate Client, md *Metadata) *Delegating {
	if md == nil {
		md = NewMetadata(nil)
	}
	return &Delegating{delegate: delegate, metadata: md}
}

// Metadata 返回构造时提供的元数据，每次调用返回同一个值，不访问网络
func (d *Delegating) Metadata() *Metadata {
	return d.metadata
}

func (d *Delegating) RegisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error {
	return d.delegate.RegisterInstance(ctx, serviceName, instance, opts)
}

func (d *Delegating) DeregisterInstance(ctx context.Context, serviceName string, instance *Instance, opts RegisterOptions) error {
	return d.delegate.DeregisterInstance(ctx, serviceName, instance, opts)
}

func (d *Delegating) GetAllInstances(ctx context.Context, serviceName string, opts QueryOptions) ([]*Instance, error) {
	return d.delegate.GetAllInstances(ctx, serviceName, opts)
}

func (d *Delegating) SelectInstances(ctx context.Context, serviceName string, healthy bool, opts QueryOptions) ([]*Instance, error) {
	return d.delegate.SelectInstances(ctx, serviceName, healthy, opts)
}

func (d *Delegating) SelectOneHealthyInstance(ctx context.Context, serviceName string, opts QueryOptions) (*Instance, error) {
	return d.delegate.SelectOneHealthyInstance(ctx, serviceName, opts)
}

func (d *Delegating) Subscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error {
	return d.delegate.Subscribe(ctx, serviceName, listener, opts)
}

func (d *Delegating) Unsubscribe(ctx context.Context, serviceName string, listener EventListener, opts SubscribeOptions) error {
	return d.delegate.Unsubscribe(ctx, serviceName, listener, opts)
}

func (d *Delegating) GetServicesOfServer(ctx context.Context, pageNo, pageSize int, opts ListOptions) (*ListView[string], error) {
	return d.delegate.GetServicesOfServer(ctx, pageNo, pageSize, opts)
}

func (d *Delegating) GetSubscribeServices(ctx context.Context) ([]*ServiceInfo, error) {
	return d.delegate.GetSubscribeServices(ctx)
}

func (d *Delegating) GetServerStatus(ctx context.Context) string {
	return d.delegate.GetServerStatus(ctx)
}

// Close 关闭底层 Client
func (d *Delegating) Close() error {
	return d.delegate.Close()
}
