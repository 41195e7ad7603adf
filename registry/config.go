package registry

import (
	"strings"
	"time"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/xerrors"
)

// Config etcd 注册中心客户端配置
type Config struct {
	// Namespace etcd Key 前缀，默认 "/naming/services"
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`

	// DefaultTTL 临时实例的租约时长，默认 30s，最小 1s
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" mapstructure:"default_ttl"`

	// RetryInterval watch 重连与租约重建间隔，默认 1s
	RetryInterval time.Duration `yaml:"retry_interval" json:"retry_interval" mapstructure:"retry_interval"`

	// EnableCache 是否缓存查询结果，自身写入与 watch 事件会使缓存失效
	EnableCache bool `yaml:"enable_cache" json:"enable_cache" mapstructure:"enable_cache"`

	// CacheExpiration 缓存过期时间，默认 10s
	CacheExpiration time.Duration `yaml:"cache_expiration" json:"cache_expiration" mapstructure:"cache_expiration"`

	// CacheCapacity 缓存的服务数上限，默认 10000
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity" mapstructure:"cache_capacity"`

	// Codec 实例编码格式：json（默认）或 msgpack
	Codec string `yaml:"codec" json:"codec" mapstructure:"codec"`

	// Breaker 熔断配置，nil 使用默认值
	Breaker *breaker.Config `yaml:"breaker" json:"breaker" mapstructure:"breaker"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	c := &Config{EnableCache: true}
	_ = c.validate()
	return c
}

// validate 校验配置并补全默认值
func (c *Config) validate() error {
	if c.Namespace == "" {
		c.Namespace = "/naming/services"
	}
	c.Namespace = "/" + strings.Trim(c.Namespace, "/")
	if c.Namespace == "/" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "namespace must not be root")
	}

	if c.DefaultTTL == 0 {
		c.DefaultTTL = 30 * time.Second
	}
	if c.DefaultTTL < time.Second {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "default_ttl %s is shorter than 1s", c.DefaultTTL)
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.CacheExpiration <= 0 {
		c.CacheExpiration = 10 * time.Second
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 10000
	}
	if c.Codec == "" {
		c.Codec = CodecJSON
	}
	if _, err := newCodec(c.Codec); err != nil {
		return err
	}
	return nil
}
