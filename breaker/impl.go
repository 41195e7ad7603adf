package breaker

import (
	"context"
	"errors"
	"sync"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

type circuitBreaker struct {
	cfg  *Config
	opts *options

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker[any]

	requests     metrics.Counter
	rejects      metrics.Counter
	stateChanges metrics.Counter
}

func newBreaker(cfg *Config, opts *options) (Breaker, error) {
	cb := &circuitBreaker{cfg: cfg, opts: opts}

	var err error
	if cb.requests, err = opts.meter.Counter(MetricRequestsTotal, "Requests passed through the circuit breaker"); err != nil {
		return nil, xerrors.Wrap(err, "create breaker requests counter")
	}
	if cb.rejects, err = opts.meter.Counter(MetricRejectsTotal, "Requests rejected by an open circuit"); err != nil {
		return nil, xerrors.Wrap(err, "create breaker rejects counter")
	}
	if cb.stateChanges, err = opts.meter.Counter(MetricStateChanges, "Circuit breaker state transitions"); err != nil {
		return nil, xerrors.Wrap(err, "create breaker state counter")
	}
	return cb, nil
}

func (cb *circuitBreaker) Execute(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	if key == "" {
		return nil, ErrKeyEmpty
	}

	result, err := cb.getOrCreate(key).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		cb.rejects.Inc(ctx, metrics.L(LabelKey, key))
		cb.opts.logger.Debug("request rejected by circuit breaker", clog.String("key", key), clog.Error(err))

		if cb.opts.fallback != nil {
			return nil, cb.opts.fallback(ctx, key, ErrOpenState)
		}
		return nil, xerrors.Wrapf(ErrOpenState, "key %s", key)
	}

	resultLabel := "success"
	if !cb.opts.isSuccess(err) {
		resultLabel = "failure"
	}
	cb.requests.Inc(ctx, metrics.L(LabelKey, key), metrics.L(LabelResult, resultLabel))
	return result, err
}

func (cb *circuitBreaker) Do(ctx context.Context, key string, fn func() error) error {
	_, err := cb.Execute(ctx, key, func() (any, error) {
		return nil, fn()
	})
	return err
}

func (cb *circuitBreaker) State(key string) (State, error) {
	if key == "" {
		return StateClosed, ErrKeyEmpty
	}
	val, ok := cb.breakers.Load(key)
	if !ok {
		return StateClosed, nil
	}
	return fromGobreaker(val.(*gobreaker.CircuitBreaker[any]).State()), nil
}

func (cb *circuitBreaker) getOrCreate(key string) *gobreaker.CircuitBreaker[any] {
	if val, ok := cb.breakers.Load(key); ok {
		return val.(*gobreaker.CircuitBreaker[any])
	}

	settings := gobreaker.Settings{
		Name:          key,
		MaxRequests:   cb.cfg.MaxRequests,
		Interval:      cb.cfg.Interval,
		Timeout:       cb.cfg.Timeout,
		ReadyToTrip:   cb.readyToTrip,
		OnStateChange: cb.onStateChange,
		IsSuccessful:  cb.opts.isSuccess,
	}
	actual, _ := cb.breakers.LoadOrStore(key, gobreaker.NewCircuitBreaker[any](settings))
	return actual.(*gobreaker.CircuitBreaker[any])
}

func (cb *circuitBreaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < cb.cfg.MinimumRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cb.cfg.FailureRatio
}

func (cb *circuitBreaker) onStateChange(name string, from gobreaker.State, to gobreaker.State) {
	cb.stateChanges.Inc(context.Background(),
		metrics.L(LabelKey, name),
		metrics.L(LabelFromState, fromGobreaker(from).String()),
		metrics.L(LabelToState, fromGobreaker(to).String()),
	)
	cb.opts.logger.Warn("circuit breaker state changed",
		clog.String("key", name),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()))
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
