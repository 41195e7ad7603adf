package registry

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/trace"
	"github.com/ceyewan/naming/xerrors"
)

// DialOption Dial 选项
type DialOption func(*dialOptions)

type dialOptions struct {
	group        string
	clusters     []string
	balancer     string
	grpcOpts     []grpc.DialOption
	resolverOpts []ResolverOption
	meter        metrics.Meter
	breaker      breaker.Breaker
}

// WithGroup 指定服务分组
func WithGroup(group string) DialOption {
	return func(o *dialOptions) { o.group = group }
}

// WithClusters 限定集群
func WithClusters(clusters ...string) DialOption {
	return func(o *dialOptions) { o.clusters = clusters }
}

// WithLoadBalancingPolicy 设置负载均衡策略，默认 round_robin
func WithLoadBalancingPolicy(policy string) DialOption {
	return func(o *dialOptions) {
		if policy != "" {
			o.balancer = policy
		}
	}
}

// WithDialOptions 透传 grpc.DialOption，必须包含传输凭证
func WithDialOptions(opts ...grpc.DialOption) DialOption {
	return func(o *dialOptions) { o.grpcOpts = append(o.grpcOpts, opts...) }
}

// WithResolverOptions 设置 resolver 选项
func WithResolverOptions(opts ...ResolverOption) DialOption {
	return func(o *dialOptions) { o.resolverOpts = append(o.resolverOpts, opts...) }
}

// WithDialMeter 为连接添加客户端 RED 指标
func WithDialMeter(m metrics.Meter) DialOption {
	return func(o *dialOptions) { o.meter = m }
}

// WithDialBreaker 为连接添加熔断拦截器
func WithDialBreaker(b breaker.Breaker) DialOption {
	return func(o *dialOptions) { o.breaker = b }
}

// Dial 创建到服务的 gRPC 连接
//
// 连接使用专属的 resolver（不修改全局注册表），默认 round_robin 负载均衡，
// 并带有 otelgrpc 链路追踪。当 ctx 带有 deadline 时，会主动触发连接并等待 Ready 或超时返回。
//
// 注意：必须通过 WithDialOptions 传入 grpc.WithTransportCredentials() 或其他凭证选项。
func Dial(ctx context.Context, client naming.Client, serviceName string, opts ...DialOption) (*grpc.ClientConn, error) {
	if client == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "naming client is required")
	}
	if serviceName == "" {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "service name is required")
	}

	o := &dialOptions{balancer: "round_robin"}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.grpcOpts) == 0 {
		return nil, xerrors.New("dial options required, e.g., grpc.WithTransportCredentials()")
	}

	builder := NewResolverBuilder(client, o.resolverOpts...)
	target := buildTarget(builder.Scheme(), serviceName, o.group, o.clusters)

	var interceptors []grpc.UnaryClientInterceptor
	if o.meter != nil {
		gm, err := metrics.NewGRPCClientMetrics(o.meter, serviceName)
		if err != nil {
			return nil, err
		}
		interceptors = append(interceptors, gm.UnaryClientInterceptor())
	}
	if o.breaker != nil {
		interceptors = append(interceptors, o.breaker.UnaryClientInterceptor())
	}

	dialOpts := []grpc.DialOption{
		grpc.WithResolvers(builder),
		grpc.WithDefaultServiceConfig(fmt.Sprintf(`{"loadBalancingPolicy":%q}`, o.balancer)),
		trace.GRPCClientDialOption(),
	}
	if len(interceptors) > 0 {
		dialOpts = append(dialOpts, grpc.WithChainUnaryInterceptor(interceptors...))
	}
	dialOpts = append(dialOpts, o.grpcOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "dial failed")
	}

	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		if err := waitForReady(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	if ctx.Err() != nil {
		return xerrors.Wrap(ctx.Err(), "connect canceled")
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return xerrors.Wrap(ctx.Err(), "wait for connection ready")
			}
			return xerrors.New("wait for connection ready")
		}
	}
}
