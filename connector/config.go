package connector

import (
	"strings"
	"time"

	"github.com/ceyewan/naming/xerrors"
)

// EtcdConfig etcd 连接配置
type EtcdConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "default")

	Endpoints []string `mapstructure:"endpoints"` // [必填] 连接地址列表
	Username  string   `mapstructure:"username"`  // [可选] 认证用户
	Password  string   `mapstructure:"password"`  // [可选] 认证密码

	DialTimeout      time.Duration `mapstructure:"dial_timeout"`       // 拨号超时 (默认: 5s)
	KeepAliveTime    time.Duration `mapstructure:"keep_alive_time"`    // 心跳间隔 (默认: 10s)
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout"` // 心跳超时 (默认: 3s)
	HealthCheckFreq  time.Duration `mapstructure:"health_check_freq"`  // 后台健康检查频率 (默认: 30s，负数关闭)
}

func (c *EtcdConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.KeepAliveTime == 0 {
		c.KeepAliveTime = 10 * time.Second
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = 3 * time.Second
	}
	if c.HealthCheckFreq == 0 {
		c.HealthCheckFreq = 30 * time.Second
	}
}

// validate 设置默认值并校验
func (c *EtcdConfig) validate() error {
	c.setDefaults()

	var endpoints []string
	for _, ep := range c.Endpoints {
		if ep = strings.TrimSpace(ep); ep != "" {
			endpoints = append(endpoints, ep)
		}
	}
	if len(endpoints) == 0 {
		return xerrors.Wrap(ErrConfig, "etcd endpoints are required")
	}
	c.Endpoints = endpoints

	if (c.Username == "") != (c.Password == "") {
		return xerrors.Wrap(ErrConfig, "etcd username and password must be set together")
	}
	if c.DialTimeout < 0 || c.KeepAliveTime < 0 || c.KeepAliveTimeout < 0 {
		return xerrors.Wrap(ErrConfig, "etcd timeouts must not be negative")
	}
	return nil
}
