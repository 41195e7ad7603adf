// Package config 提供统一的配置加载能力，基于 Viper 实现。
//
// 特性：
//   - 多源配置加载：YAML/JSON 文件、环境变量、.env 文件
//   - 配置优先级：环境变量 > .env > 环境特定配置 > 基础配置
//   - 热更新：监听配置文件变化，按 key 通知订阅方
//
// 基本使用：
//
//	loader := config.MustLoad(&config.Config{
//		Name:  "namingctl",
//		Paths: []string{"./config"},
//	})
//
//	var props map[string]string
//	_ = loader.UnmarshalKey("naming.metadata", &props)
//
//	ch, _ := loader.Watch(ctx, "log.level")
//	for event := range ch {
//		fmt.Printf("%s: %v -> %v\n", event.Key, event.OldValue, event.Value)
//	}
package config

import (
	"context"
	"strings"

	"github.com/ceyewan/naming/clog"
)

// DefaultEnvPrefix 环境变量默认前缀，NAMING_NAMING_METADATA_SERVERADDR 覆盖 naming.metadata.serverAddr
const DefaultEnvPrefix = "NAMING"

// Config 加载器配置
type Config struct {
	Name      string   // 配置文件名称（不含扩展名），默认 "config"
	Paths     []string // 配置文件搜索路径，默认 [".", "./config"]
	FileType  string   // 配置文件类型 (yaml, json, etc.)，默认 yaml
	EnvPrefix string   // 环境变量前缀，默认 NAMING
}

// validate 设置默认值并验证配置
func (c *Config) validate() error {
	if c.Name == "" {
		c.Name = "config"
	}
	if len(c.Paths) == 0 {
		c.Paths = []string{".", "./config"}
	}
	if c.FileType == "" {
		c.FileType = "yaml"
	}
	if c.EnvPrefix == "" {
		c.EnvPrefix = DefaultEnvPrefix
	}
	c.EnvPrefix = strings.ToUpper(c.EnvPrefix)

	switch c.FileType {
	case "yaml", "yml", "json", "toml", "env", "properties":
	default:
		return WrapValidationError(ErrUnsupportedType)
	}
	return nil
}

// Option 加载器选项
type Option func(*options)

type options struct {
	logger clog.Logger
}

// WithLogger 注入日志记录器，内部追加 "config" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("config")
		}
	}
}

// New 创建配置加载器，cfg 为 nil 时使用默认配置
func New(cfg *Config, opts ...Option) (Loader, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := &options{logger: clog.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	return newLoader(cfg, o), nil
}

// MustLoad 创建并加载配置，失败时 panic，仅用于 main 函数
func MustLoad(cfg *Config, opts ...Option) Loader {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	if err := l.Load(context.Background()); err != nil {
		panic(err)
	}
	return l
}
