package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// 服务发现语义属性键
const (
	AttrNamingBackend  = "naming.backend"
	AttrNamingService  = "naming.service"
	AttrNamingGroup    = "naming.group"
	AttrNamingClusters = "naming.clusters"
	AttrNamingCount    = "naming.instance.count"
)

// SpanName 返回服务发现操作的 Span 名称，如 "naming.register orders"
func SpanName(op, service string) string {
	if service == "" {
		return "naming." + op
	}
	return "naming." + op + " " + service
}

// Tracer 返回以 instrumentation 命名的全局 Tracer
func Tracer(instrumentation string) oteltrace.Tracer {
	return otel.Tracer(instrumentation)
}

// StartClientSpan 开启一个 client 类型的 Span 并附加服务维度属性
func StartClientSpan(ctx context.Context, tracer oteltrace.Tracer, backend, op, service, group string) (context.Context, oteltrace.Span) {
	attrs := []attribute.KeyValue{attribute.String(AttrNamingBackend, backend)}
	if service != "" {
		attrs = append(attrs, attribute.String(AttrNamingService, service))
	}
	if group != "" {
		attrs = append(attrs, attribute.String(AttrNamingGroup, group))
	}
	return tracer.Start(ctx, SpanName(op, service),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(attrs...),
	)
}

// End 根据 err 设置 Span 状态并结束 Span
func End(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
