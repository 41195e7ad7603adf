package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/metrics"
	"github.com/ceyewan/naming/xerrors"
)

// healthKey 探测用的 key，只读取计数
const healthKey = "/naming/health"

type etcdConnector struct {
	cfg    *EtcdConfig
	client *clientv3.Client
	logger clog.Logger

	healthy   atomic.Bool
	mu        sync.Mutex
	connected bool
	closed    bool
	stop      chan struct{}
	done      chan struct{}

	attempts metrics.Counter
	active   metrics.Gauge
}

// NewEtcd 创建 etcd 连接器，底层客户端立即创建但不阻塞拨号
func NewEtcd(cfg *EtcdConfig, opts ...Option) (EtcdConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "etcd config is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := applyOptions(opts)
	c := &etcdConnector{
		cfg:    cfg,
		logger: opt.logger.With(clog.String("connector", "etcd"), clog.String("name", cfg.Name)),
	}

	var err error
	if c.attempts, err = opt.meter.Counter(
		"connector_etcd_connect_attempts_total",
		"Number of etcd connect attempts",
	); err != nil {
		return nil, xerrors.Wrap(err, "create connect attempts counter")
	}
	if c.active, err = opt.meter.Gauge(
		"connector_etcd_active_connections",
		"Number of active etcd connections",
	); err != nil {
		return nil, xerrors.Wrap(err, "create active connections gauge")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:            cfg.Endpoints,
		DialTimeout:          cfg.DialTimeout,
		DialKeepAliveTime:    cfg.KeepAliveTime,
		DialKeepAliveTimeout: cfg.KeepAliveTimeout,
		Username:             cfg.Username,
		Password:             cfg.Password,
	})
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.Join(ErrConnection, err), "etcd connector[%s]", cfg.Name)
	}
	c.client = client
	return c, nil
}

// Connect 探测一次连接可用性，成功后启动后台健康检查
func (c *etcdConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrAlreadyClosed
	}
	if c.connected {
		return nil
	}

	c.logger.Info("connecting to etcd", clog.Strings("endpoints", c.cfg.Endpoints))
	err := c.probe(ctx)
	c.attempts.Inc(ctx, metrics.L("connector", c.cfg.Name), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
	if err != nil {
		c.logger.Error("failed to connect to etcd", clog.Error(err))
		return xerrors.Wrapf(xerrors.Join(ErrConnection, err), "etcd connector[%s]: connect", c.cfg.Name)
	}

	c.connected = true
	c.healthy.Store(true)
	c.active.Set(ctx, 1, metrics.L("connector", c.cfg.Name))

	if c.cfg.HealthCheckFreq > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.monitor(c.cfg.HealthCheckFreq)
	}

	c.logger.Info("connected to etcd")
	return nil
}

func (c *etcdConnector) monitor(freq time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(freq)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
			_ = c.HealthCheck(ctx)
			cancel()
		}
	}
}

func (c *etcdConnector) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	_, err := c.client.Get(probeCtx, healthKey, clientv3.WithCountOnly())
	return err
}

// Close 关闭连接
func (c *etcdConnector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop, done := c.stop, c.done
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	c.healthy.Store(false)
	c.active.Set(context.Background(), 0, metrics.L("connector", c.cfg.Name))

	if err := c.client.Close(); err != nil {
		c.logger.Error("failed to close etcd connection", clog.Error(err))
		return err
	}
	c.logger.Info("etcd connection closed")
	return nil
}

// HealthCheck 检查连接健康状态
func (c *etcdConnector) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.healthy.Store(false)
		return ErrAlreadyClosed
	}

	if err := c.probe(ctx); err != nil {
		if c.healthy.Swap(false) {
			c.logger.Warn("etcd health check failed", clog.Error(err))
		}
		return xerrors.Wrapf(xerrors.Join(ErrHealthCheck, err), "etcd connector[%s]", c.cfg.Name)
	}

	if !c.healthy.Swap(true) {
		c.logger.Info("etcd connection recovered")
	}
	return nil
}

func (c *etcdConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *etcdConnector) Name() string {
	return c.cfg.Name
}

func (c *etcdConnector) GetClient() *clientv3.Client {
	return c.client
}
