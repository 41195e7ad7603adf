package metrics

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ceyewan/naming/xerrors"
)

const (
	MetricGRPCClientRequestTotal    = "grpc_client_requests_total"
	MetricGRPCClientDurationSeconds = "grpc_client_request_duration_seconds"
)

var defaultGRPCDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// GRPCClientMetrics 记录通过服务发现建立的 gRPC 连接上的 RED 指标
type GRPCClientMetrics struct {
	service      string
	requestTotal Counter
	duration     Histogram
}

// NewGRPCClientMetrics 为目标服务创建客户端指标集
func NewGRPCClientMetrics(m Meter, service string) (*GRPCClientMetrics, error) {
	if m == nil {
		return nil, xerrors.New("meter is nil")
	}
	service = strings.TrimSpace(service)
	if service == "" {
		service = "unknown"
	}

	counter, err := m.Counter(MetricGRPCClientRequestTotal, "Total number of gRPC client requests.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create grpc request counter")
	}
	duration, err := m.Histogram(MetricGRPCClientDurationSeconds, "gRPC client request duration in seconds.",
		WithUnit("s"), WithBuckets(defaultGRPCDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create grpc request duration histogram")
	}

	return &GRPCClientMetrics{
		service:      service,
		requestTotal: counter,
		duration:     duration,
	}, nil
}

// Observe 记录一次调用
func (m *GRPCClientMetrics) Observe(ctx context.Context, fullMethod string, code codes.Code, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if code != codes.OK {
		outcome = OutcomeError
	}
	labels := []Label{
		L(LabelService, m.service),
		L(LabelMethod, fullMethod),
		L(LabelGRPCCode, code.String()),
		L(LabelOutcome, outcome),
	}
	m.requestTotal.Inc(ctx, labels...)
	m.duration.Record(ctx, d.Seconds(), labels...)
}

// UnaryClientInterceptor 返回记录指标的 grpc.UnaryClientInterceptor
func (m *GRPCClientMetrics) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		m.Observe(ctx, method, status.Code(err), time.Since(start))
		return err
	}
}
