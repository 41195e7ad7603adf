// Package testkit 提供测试共享的依赖构造：日志、指标、唯一 ID 与 etcd 测试容器。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包，Meter 在测试结束时关闭
func NewKit(t *testing.T) *Kit {
	t.Helper()
	meter := NewMeter()
	t.Cleanup(func() {
		_ = meter.Shutdown(context.Background())
	})
	return &Kit{
		Ctx:    context.Background(),
		Logger: NewLogger(),
		Meter:  meter,
	}
}

// NewLogger 返回开发格式的测试 logger，设置 NAMING_TEST_QUIET 时静默
func NewLogger() clog.Logger {
	if quiet() {
		return clog.Discard()
	}
	logger, err := clog.New(clog.NewDevDefaultConfig("naming"))
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个不暴露 HTTP 端口的测试 meter
func NewMeter() metrics.Meter {
	meter, err := metrics.New(metrics.NewDevDefaultConfig("naming-test"))
	if err != nil {
		return metrics.Discard()
	}
	return meter
}

// NewContext 返回一个带有超时的测试上下文，测试结束时自动取消
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)，用于隔离 key 前缀与服务名
func NewID() string {
	return uuid.New().String()[0:8]
}

func quiet() bool {
	return os.Getenv("NAMING_TEST_QUIET") != ""
}
