package clog

import (
	"fmt"
	"strings"
)

const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config 日志配置结构
//
//	Level:      debug|info|warn|error|fatal
//	Format:     json|console
//	Output:     stdout|stderr|<文件路径>
//	AddSource:  是否输出调用位置
//	SourceRoot: 裁剪调用位置路径的前缀
//	Rotation:   仅在 Output 为文件时生效
type Config struct {
	Level      string          `json:"level" yaml:"level" mapstructure:"level"`
	Format     string          `json:"format" yaml:"format" mapstructure:"format"`
	Output     string          `json:"output" yaml:"output" mapstructure:"output"`
	AddSource  bool            `json:"addSource" yaml:"addSource" mapstructure:"add_source"`
	SourceRoot string          `json:"sourceRoot" yaml:"sourceRoot" mapstructure:"source_root"`
	Rotation   *RotationConfig `json:"rotation" yaml:"rotation" mapstructure:"rotation"`
}

// RotationConfig 文件滚动配置，由 lumberjack 负责切分
type RotationConfig struct {
	MaxSizeMB  int  `json:"maxSizeMB" yaml:"maxSizeMB" mapstructure:"max_size_mb"`    // 单文件大小上限，默认 100
	MaxBackups int  `json:"maxBackups" yaml:"maxBackups" mapstructure:"max_backups"`  // 保留的旧文件数，默认 7
	MaxAgeDays int  `json:"maxAgeDays" yaml:"maxAgeDays" mapstructure:"max_age_days"` // 旧文件保留天数，默认 30
	Compress   bool `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// NewDevDefaultConfig 开发环境默认配置：console 格式、debug 级别、带调用位置
func NewDevDefaultConfig(sourceRoot string) *Config {
	return &Config{
		Level:      "debug",
		Format:     "console",
		Output:     "stdout",
		AddSource:  true,
		SourceRoot: sourceRoot,
	}
}

// NewProdDefaultConfig 生产环境默认配置：json 格式、info 级别
func NewProdDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}
}

// validate 设置默认值并校验
func (c *Config) validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}

	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	format := strings.ToLower(c.Format)
	if format != "json" && format != "console" {
		return fmt.Errorf("invalid format: %s, must be json or console", c.Format)
	}
	if c.Rotation != nil {
		if c.Rotation.MaxSizeMB < 0 || c.Rotation.MaxBackups < 0 || c.Rotation.MaxAgeDays < 0 {
			return fmt.Errorf("invalid rotation: values must not be negative")
		}
	}
	return nil
}
