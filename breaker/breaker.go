// Package breaker 提供按 key 隔离的熔断器，基于 gobreaker 实现。
//
// 注册中心客户端以后端地址为 key 保护所有远端调用：连续失败达到阈值后快速失败，
// 超时后进入半开状态探测恢复。也可以作为 gRPC 客户端拦截器使用。
//
//	brk, _ := breaker.New(&breaker.Config{
//		FailureRatio:    0.6,
//		MinimumRequests: 10,
//	}, breaker.WithLogger(logger))
//
//	err := brk.Do(ctx, "etcd", func() error {
//		_, err := client.Put(ctx, key, value)
//		return err
//	})
package breaker

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/ceyewan/naming/clog"
)

// Breaker 熔断器核心接口
type Breaker interface {
	// Execute 执行受熔断保护的函数，熔断打开时返回 ErrOpenState
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// Do 是 Execute 的无返回值版本
	Do(ctx context.Context, key string, fn func() error) error

	// State 获取指定键的熔断器状态，未使用过的键视为闭合
	State(key string) (State, error)

	// UnaryClientInterceptor 返回以连接目标为键的 gRPC 客户端拦截器
	UnaryClientInterceptor() grpc.UnaryClientInterceptor
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数（默认：1）
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`

	// Interval 闭合状态下的统计周期，0 表示不清空统计
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Timeout 打开状态持续时间（默认：30s）
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// FailureRatio 触发熔断的失败率（默认：0.6）
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinimumRequests 统计周期内触发熔断的最小请求数（默认：10）
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	c := &Config{}
	_ = c.validate()
	return c
}

func (c *Config) validate() error {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	if c.FailureRatio > 1 {
		return ErrInvalidRatio
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
	return nil
}

// New 创建熔断器实例，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts)
	opt.logger.Debug("circuit breaker created",
		clog.Int("max_requests", int(cfg.MaxRequests)),
		clog.Duration("timeout", cfg.Timeout),
		clog.Float64("failure_ratio", cfg.FailureRatio),
		clog.Int("minimum_requests", int(cfg.MinimumRequests)))

	return newBreaker(cfg, opt)
}
