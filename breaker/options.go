package breaker

import (
	"context"
	"errors"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
)

// Option 组件初始化选项
type Option func(*options)

// FallbackFunc 熔断打开时的降级逻辑，返回 nil 表示降级成功
type FallbackFunc func(ctx context.Context, key string, err error) error

// SuccessFunc 判断一次调用结果是否计为成功
type SuccessFunc func(err error) bool

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	fallback  FallbackFunc
	isSuccess SuccessFunc
}

// WithLogger 设置 Logger，内部追加 "breaker" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("breaker")
		}
	}
}

// WithMeter 设置指标收集器
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithFallback 设置降级函数
func WithFallback(fallback FallbackFunc) Option {
	return func(o *options) {
		o.fallback = fallback
	}
}

// WithSuccessClassifier 自定义成功判定，例如参数错误不应计入失败
func WithSuccessClassifier(fn SuccessFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.isSuccess = fn
		}
	}
}

// defaultIsSuccess 调用方主动取消不计入失败
func defaultIsSuccess(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger:    clog.Discard(),
		meter:     metrics.Discard(),
		isSuccess: defaultIsSuccess,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
