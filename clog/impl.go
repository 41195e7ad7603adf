package clog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// NamespaceKey 是日志中命名空间的字段名
const NamespaceKey = "namespace"

// loggerImpl 是 Logger 接口的具体实现
//
// 子 Logger 共享 handler 与 level，因此 SetLevel 对整棵 Logger 树生效。
type loggerImpl struct {
	handler   slog.Handler
	level     *slog.LevelVar
	output    io.Writer
	namespace []string
	ctxFields []ContextField
	attrs     []slog.Attr
}

func newLogger(config *Config, o *options) (Logger, error) {
	w := o.writer
	if w == nil {
		var err error
		if w, err = openOutput(config); err != nil {
			return nil, err
		}
	}

	lvl, _ := ParseLevel(config.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(lvl.slogLevel())

	handlerOpts := &slog.HandlerOptions{
		Level:       levelVar,
		AddSource:   config.AddSource,
		ReplaceAttr: replaceAttr(config.SourceRoot),
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return &loggerImpl{
		handler:   handler,
		level:     levelVar,
		output:    w,
		namespace: append([]string(nil), o.namespaceParts...),
		ctxFields: append([]ContextField(nil), o.contextFields...),
	}, nil
}

// replaceAttr 统一时间格式、Fatal 级别名称，并裁剪源码路径
func replaceAttr(sourceRoot string) func(groups []string, a slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			if t, ok := a.Value.Any().(time.Time); ok {
				return slog.String(slog.TimeKey, t.Format(TimeFormat))
			}
		case slog.LevelKey:
			if lv, ok := a.Value.Any().(slog.Level); ok && lv >= slogFatal {
				return slog.String(slog.LevelKey, "FATAL")
			}
		case slog.SourceKey:
			if src, ok := a.Value.Any().(*slog.Source); ok && src != nil {
				file := src.File
				if sourceRoot != "" {
					if idx := strings.Index(file, sourceRoot); idx >= 0 {
						file = file[idx:]
					}
				} else {
					file = filepath.Base(file)
				}
				return slog.String(slog.SourceKey, file+":"+strconv.Itoa(src.Line))
			}
		}
		return a
	}
}

func (l *loggerImpl) Debug(msg string, fields ...Field) {
	l.log(context.Background(), DebugLevel, msg, fields)
}

func (l *loggerImpl) Info(msg string, fields ...Field) {
	l.log(context.Background(), InfoLevel, msg, fields)
}

func (l *loggerImpl) Warn(msg string, fields ...Field) {
	l.log(context.Background(), WarnLevel, msg, fields)
}

func (l *loggerImpl) Error(msg string, fields ...Field) {
	l.log(context.Background(), ErrorLevel, msg, fields)
}

func (l *loggerImpl) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), FatalLevel, msg, fields)
}

func (l *loggerImpl) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, DebugLevel, msg, fields)
}

func (l *loggerImpl) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, InfoLevel, msg, fields)
}

func (l *loggerImpl) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, WarnLevel, msg, fields)
}

func (l *loggerImpl) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, ErrorLevel, msg, fields)
}

func (l *loggerImpl) FatalContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, FatalLevel, msg, fields)
}

func (l *loggerImpl) With(fields ...Field) Logger {
	child := l.clone()
	child.attrs = append(child.attrs, fields...)
	return child
}

func (l *loggerImpl) WithNamespace(parts ...string) Logger {
	child := l.clone()
	child.namespace = append(child.namespace, parts...)
	return child
}

func (l *loggerImpl) SetLevel(level Level) error {
	l.level.Set(level.slogLevel())
	return nil
}

// Flush 对支持 Sync 的输出（文件）执行同步
func (l *loggerImpl) Flush() {
	if s, ok := l.output.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func (l *loggerImpl) clone() *loggerImpl {
	return &loggerImpl{
		handler:   l.handler,
		level:     l.level,
		output:    l.output,
		namespace: append([]string(nil), l.namespace...),
		ctxFields: l.ctxFields,
		attrs:     append([]slog.Attr(nil), l.attrs...),
	}
}

func (l *loggerImpl) log(ctx context.Context, level Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	slogLevel := level.slogLevel()
	if !l.handler.Enabled(ctx, slogLevel) {
		return
	}

	// skip: runtime.Callers, log, Info/Error 等
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	record := slog.NewRecord(time.Now(), slogLevel, msg, pcs[0])

	if len(l.namespace) > 0 {
		record.AddAttrs(slog.String(NamespaceKey, strings.Join(l.namespace, ".")))
	}
	record.AddAttrs(l.attrs...)
	for _, cf := range l.ctxFields {
		if v := ctx.Value(cf.Key); v != nil {
			record.AddAttrs(slog.Any(cf.FieldName, v))
		}
	}
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		record.AddAttrs(f)
	}

	_ = l.handler.Handle(ctx, record)

	if level == FatalLevel {
		l.Flush()
		os.Exit(1)
	}
}
