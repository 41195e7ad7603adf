package metrics

import (
	"context"
	"time"

	"github.com/ceyewan/naming/xerrors"
)

const (
	MetricNamingOperationsTotal   = "naming_client_operations_total"
	MetricNamingOperationDuration = "naming_client_operation_duration_seconds"
	MetricNamingSubscriptions     = "naming_client_subscriptions"
)

var defaultNamingDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NamingClientMetrics 注册中心客户端的操作指标
//
// 所有注册中心后端共用同一组指标名，以 backend 标签区分。
type NamingClientMetrics struct {
	backend       string
	operations    Counter
	duration      Histogram
	subscriptions Gauge
}

// NewNamingClientMetrics 为指定后端创建指标集
func NewNamingClientMetrics(m Meter, backend string) (*NamingClientMetrics, error) {
	if m == nil {
		return nil, xerrors.New("meter is nil")
	}

	ops, err := m.Counter(MetricNamingOperationsTotal, "Total number of naming client operations.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create naming operations counter")
	}
	duration, err := m.Histogram(MetricNamingOperationDuration, "Naming client operation duration in seconds.",
		WithUnit("s"), WithBuckets(defaultNamingDurationBuckets))
	if err != nil {
		return nil, xerrors.Wrap(err, "create naming duration histogram")
	}
	subs, err := m.Gauge(MetricNamingSubscriptions, "Active naming subscriptions.")
	if err != nil {
		return nil, xerrors.Wrap(err, "create naming subscriptions gauge")
	}

	return &NamingClientMetrics{
		backend:       backend,
		operations:    ops,
		duration:      duration,
		subscriptions: subs,
	}, nil
}

// Observe 记录一次操作的结果与耗时，service 标签只接受服务名不接受实例地址
func (m *NamingClientMetrics) Observe(ctx context.Context, op, service string, err error, d time.Duration) {
	if m == nil {
		return
	}
	labels := []Label{
		L(LabelBackend, m.backend),
		L(LabelOperation, op),
		L(LabelService, service),
		L(LabelOutcome, Outcome(err)),
	}
	m.operations.Inc(ctx, labels...)
	m.duration.Record(ctx, d.Seconds(), labels...)
}

// SetSubscriptions 设置当前活跃订阅数
func (m *NamingClientMetrics) SetSubscriptions(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(ctx, float64(n), L(LabelBackend, m.backend))
}
