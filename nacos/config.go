package nacos

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"

	"github.com/ceyewan/naming/breaker"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

// DefaultPort Nacos 默认端口
const DefaultPort = 8848

// Config Nacos 注册中心客户端配置
type Config struct {
	// ServerAddrs 服务地址列表，格式 host[:port]，未指定端口时使用 8848
	ServerAddrs []string `yaml:"server_addrs" json:"server_addrs" mapstructure:"server_addrs"`
	// Endpoint 地址服务器，与 ServerAddrs 二选一
	Endpoint    string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`
	ContextPath string `yaml:"context_path" json:"context_path" mapstructure:"context_path"`
	// Namespace 命名空间 ID，空为 public
	Namespace string `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
	Username  string `yaml:"username" json:"username" mapstructure:"username"`
	Password  string `yaml:"password" json:"password" mapstructure:"password"`
	AccessKey string `yaml:"access_key" json:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key" mapstructure:"secret_key"`
	// Timeout 请求超时，默认 5s
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	// LogDir/CacheDir SDK 日志与本地缓存目录
	LogDir   string `yaml:"log_dir" json:"log_dir" mapstructure:"log_dir"`
	CacheDir string `yaml:"cache_dir" json:"cache_dir" mapstructure:"cache_dir"`
	// LogLevel SDK 日志级别，默认 warn
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// Breaker 熔断配置，nil 使用默认值
	Breaker *breaker.Config `yaml:"breaker" json:"breaker" mapstructure:"breaker"`
}

// validate 校验配置并补全默认值
func (c *Config) validate() error {
	var addrs []string
	for _, addr := range c.ServerAddrs {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	c.ServerAddrs = addrs
	if len(c.ServerAddrs) == 0 && c.Endpoint == "" {
		return ErrServerAddrRequired
	}
	if _, err := c.serverConfigs(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.LogDir == "" {
		c.LogDir = "/tmp/nacos/log"
	}
	if c.CacheDir == "" {
		c.CacheDir = "/tmp/nacos/cache"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	return nil
}

// serverConfigs 将 ServerAddrs 转换为 SDK 的服务端配置
func (c *Config) serverConfigs() ([]constant.ServerConfig, error) {
	out := make([]constant.ServerConfig, 0, len(c.ServerAddrs))
	for _, addr := range c.ServerAddrs {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, constant.ServerConfig{IpAddr: host, Port: port, ContextPath: c.ContextPath})
	}
	return out, nil
}

func (c *Config) clientConfig() *constant.ClientConfig {
	return &constant.ClientConfig{
		NamespaceId:         c.Namespace,
		Endpoint:            c.Endpoint,
		ContextPath:         c.ContextPath,
		Username:            c.Username,
		Password:            c.Password,
		AccessKey:           c.AccessKey,
		SecretKey:           c.SecretKey,
		TimeoutMs:           uint64(c.Timeout.Milliseconds()),
		NotLoadCacheAtStart: true,
		LogDir:              c.LogDir,
		CacheDir:            c.CacheDir,
		LogLevel:            c.LogLevel,
	}
}

func splitHostPort(addr string) (string, uint64, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// 不带端口
		if strings.Contains(err.Error(), "missing port") {
			return strings.Trim(addr, "[]"), DefaultPort, nil
		}
		return "", 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "server address %q: %v", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "server address %q: invalid port", addr)
	}
	return host, port, nil
}

// ConfigFromMetadata 从元数据构造配置
//
// 识别的键：serverAddr（host:port[,host:port]）、endpoint、contextPath、namespace、
// username、password、accessKey、secretKey、timeout（如 "3s"，纯数字按毫秒）、
// logDir、cacheDir、logLevel。
func ConfigFromMetadata(md *naming.Metadata) (*Config, error) {
	if md == nil {
		md = naming.NewMetadata(nil)
	}
	cfg := &Config{
		Endpoint:    md.Get(naming.KeyEndpoint),
		ContextPath: md.Get(naming.KeyContextPath),
		Namespace:   md.Get(naming.KeyNamespace),
		Username:    md.Get(naming.KeyUsername),
		Password:    md.Get(naming.KeyPassword),
		AccessKey:   md.Get(naming.KeyAccessKey),
		SecretKey:   md.Get(naming.KeySecretKey),
		LogDir:      md.Get(naming.KeyLogDir),
		CacheDir:    md.Get(naming.KeyCacheDir),
		LogLevel:    md.Get(naming.KeyLogLevel),
	}
	if addrs := md.Get(naming.KeyServerAddr); addrs != "" {
		cfg.ServerAddrs = strings.Split(addrs, ",")
	}
	if raw := md.Get(naming.KeyTimeout); raw != "" {
		d, err := parseTimeout(raw)
		if err != nil {
			return nil, err
		}
		cfg.Timeout = d
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "invalid timeout %q", raw)
	}
	return d, nil
}
