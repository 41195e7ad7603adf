package metrics

import (
	"strings"

	"github.com/ceyewan/naming/xerrors"
)

// Config 指标系统配置
//
// 支持从配置文件加载：
//
//	metrics:
//	  enabled: true
//	  service_name: "namingctl"
//	  version: "v0.3.0"
//	  port: 9090
//	  path: "/metrics"
//	  runtime: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 service.version
	Version string `mapstructure:"version"`

	// Port 大于 0 时启动 HTTP 服务暴露 Prometheus 指标
	Port int `mapstructure:"port"`

	// Path 指标路径，必须以 "/" 开头，默认 /metrics
	Path string `mapstructure:"path"`

	// Runtime 是否采集 Go 运行时指标（GC、goroutine、内存）
	Runtime bool `mapstructure:"runtime"`
}

// NewDevDefaultConfig 开发环境默认配置：启用指标但不启动 HTTP 服务
func NewDevDefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     "dev",
		Path:        "/metrics",
	}
}

// NewProdDefaultConfig 生产环境默认配置
func NewProdDefaultConfig(serviceName, version string) *Config {
	return &Config{
		Enabled:     true,
		ServiceName: serviceName,
		Version:     version,
		Port:        9090,
		Path:        "/metrics",
		Runtime:     true,
	}
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		c.ServiceName = "naming"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Path, "/") {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "metrics path %q must start with /", c.Path)
	}
	if c.Port < 0 || c.Port > 65535 {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "metrics port %d out of range", c.Port)
	}
	return nil
}
