package nacos

import (
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger  clog.Logger
	meter   metrics.Meter
	tracer  oteltrace.Tracer
	breaker breaker.Breaker
	api     namingAPI
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "nacos" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("nacos")
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

// WithBreaker 注入熔断器，未注入时按 Config.Breaker 创建
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		if b != nil {
			o.breaker = b
		}
	}
}

// withAPI 替换 SDK 客户端，仅用于测试
func withAPI(api namingAPI) Option {
	return func(o *options) {
		o.api = api
	}
}
