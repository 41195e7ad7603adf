// Package discovery 根据元数据构造注册中心客户端与 naming.Delegating 门面。
//
// 元数据中的 backend 键选择后端，未设置时使用 nacos。内置后端：
//   - nacos：serverAddr、namespace、username、password、accessKey、secretKey、timeout 等
//   - etcd：serverAddr（etcd 地址列表）、username、password、timeout、etcd.prefix、ttl
//
// 基本使用：
//
//	md := naming.NewMetadata(map[string]string{
//		naming.KeyBackend:    "etcd",
//		naming.KeyServerAddr: "127.0.0.1:2379",
//	})
//	ns, err := discovery.New(ctx, md, discovery.WithLogger(logger))
//	defer ns.Close()
package discovery

import (
	"context"
	"maps"
	"slices"
	"sync"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// DefaultBackend 未指定 backend 时使用的后端
const DefaultBackend = "nacos"

// ErrUnknownBackend backend 未注册
var ErrUnknownBackend = xerrors.New("discovery: unknown backend")

// BuildOptions 传递给后端构造器的公共依赖
type BuildOptions struct {
	Logger clog.Logger
	Meter  metrics.Meter
	Tracer oteltrace.Tracer // 可为 nil，由后端使用默认值
}

// Builder 根据元数据创建具体的注册中心客户端
type Builder interface {
	Build(ctx context.Context, md *naming.Metadata, opts BuildOptions) (naming.Client, error)
}

// BuilderFunc 函数形式的 Builder
type BuilderFunc func(ctx context.Context, md *naming.Metadata, opts BuildOptions) (naming.Client, error)

// Build 调用 f
func (f BuilderFunc) Build(ctx context.Context, md *naming.Metadata, opts BuildOptions) (naming.Client, error) {
	return f(ctx, md, opts)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Builder)
)

// RegisterBackend 注册后端构造器，名字为空、builder 为 nil 或重复注册时 panic
func RegisterBackend(name string, b Builder) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if name == "" || b == nil {
		panic("discovery: RegisterBackend with empty name or nil builder")
	}
	if _, dup := backends[name]; dup {
		panic("discovery: RegisterBackend called twice for backend " + name)
	}
	backends[name] = b
}

// Backends 返回已注册的后端名，按名称排序
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return slices.Sorted(maps.Keys(backends))
}

func lookup(name string) (Builder, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	if !ok {
		return nil, xerrors.Wrapf(ErrUnknownBackend, "%q", name)
	}
	return b, nil
}

// Option 构造选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	tracer oteltrace.Tracer
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "discovery" namespace，后端在此基础上追加自身 namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("discovery")
		}
	}
}

// WithMeter 注入指标收集器
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracer 注入 Tracer
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New 按元数据选择后端，创建客户端并包装为携带同一份元数据的门面
func New(ctx context.Context, md *naming.Metadata, opts ...Option) (*naming.Delegating, error) {
	return build(ctx, md, applyOptions(opts))
}

func build(ctx context.Context, md *naming.Metadata, o *options) (*naming.Delegating, error) {
	if md == nil {
		md = naming.NewMetadata(nil)
	}
	name := md.GetOrDefault(naming.KeyBackend, DefaultBackend)
	b, err := lookup(name)
	if err != nil {
		return nil, err
	}

	client, err := b.Build(ctx, md, BuildOptions{Logger: o.logger, Meter: o.meter, Tracer: o.tracer})
	if err != nil {
		o.logger.Error("failed to build naming client",
			clog.String("backend", name),
			clog.String("metadata", md.String()),
			clog.Error(err))
		return nil, xerrors.Wrapf(err, "build %s naming client", name)
	}

	o.logger.Info("naming client created",
		clog.String("backend", name),
		clog.String("metadata", md.String()))
	return naming.NewDelegating(client, md), nil
}
