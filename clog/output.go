package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// openOutput 根据配置创建输出目标
//
// 文件输出统一交给 lumberjack，未配置 Rotation 时使用默认的切分参数。
func openOutput(config *Config) (io.Writer, error) {
	switch config.Output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	dir := filepath.Dir(config.Output)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}

	rotation := config.Rotation
	if rotation == nil {
		rotation = &RotationConfig{}
	}
	return newRotatingWriter(config.Output, rotation), nil
}

func newRotatingWriter(filename string, r *RotationConfig) *lumberjack.Logger {
	maxSize := r.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	maxBackups := r.MaxBackups
	if maxBackups == 0 {
		maxBackups = 7
	}
	maxAge := r.MaxAgeDays
	if maxAge == 0 {
		maxAge = 30
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   r.Compress,
		LocalTime:  true,
	}
}
