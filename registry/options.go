package registry

import (
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 选项结构
type options struct {
	logger         clog.Logger
	meter          metrics.Meter
	tracer         oteltrace.Tracer
	breaker        breaker.Breaker
	ownedConnector bool
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "registry" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("registry")
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

// WithTracer 注入 Tracer，默认使用全局 TracerProvider
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithBreaker 注入熔断器，未注入时按 Config.Breaker 创建
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		if b != nil {
			o.breaker = b
		}
	}
}

// WithOwnedConnector 声明 Registry 拥有连接器，Close 时一并关闭
func WithOwnedConnector() Option {
	return func(o *options) {
		o.ownedConnector = true
	}
}
