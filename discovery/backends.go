package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ceyewan/naming/connector"
	"github.com/ceyewan/naming/nacos"
	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/registry"
	"github.com/ceyewan/naming/xerrors"
)

func init() {
	RegisterBackend(registry.BackendName, BuilderFunc(buildEtcd))
	RegisterBackend(nacos.BackendName, BuilderFunc(buildNacos))
}

func buildNacos(_ context.Context, md *naming.Metadata, opts BuildOptions) (naming.Client, error) {
	cfg, err := nacos.ConfigFromMetadata(md)
	if err != nil {
		return nil, err
	}
	return nacos.New(cfg,
		nacos.WithLogger(opts.Logger),
		nacos.WithMeter(opts.Meter),
		nacos.WithTracer(opts.Tracer))
}

// buildEtcd 创建 etcd 连接器与 Registry，连接器归 Registry 所有
func buildEtcd(ctx context.Context, md *naming.Metadata, opts BuildOptions) (naming.Client, error) {
	connCfg, regCfg, err := etcdConfigFromMetadata(md)
	if err != nil {
		return nil, err
	}

	conn, err := connector.NewEtcd(connCfg,
		connector.WithLogger(opts.Logger),
		connector.WithMeter(opts.Meter))
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	reg, err := registry.New(conn, regCfg,
		registry.WithLogger(opts.Logger),
		registry.WithMeter(opts.Meter),
		registry.WithTracer(opts.Tracer),
		registry.WithOwnedConnector())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return reg, nil
}

// etcdConfigFromMetadata 解析 etcd 后端的连接与 Registry 配置
func etcdConfigFromMetadata(md *naming.Metadata) (*connector.EtcdConfig, *registry.Config, error) {
	connCfg := &connector.EtcdConfig{
		Name:     "naming",
		Username: md.Get(naming.KeyUsername),
		Password: md.Get(naming.KeyPassword),
	}
	for _, ep := range strings.Split(md.Get(naming.KeyServerAddr), ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			connCfg.Endpoints = append(connCfg.Endpoints, ep)
		}
	}
	if len(connCfg.Endpoints) == 0 {
		return nil, nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "metadata %q is required for etcd backend", naming.KeyServerAddr)
	}
	if raw := md.Get(naming.KeyTimeout); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return nil, nil, xerrors.Wrapf(err, "metadata %q", naming.KeyTimeout)
		}
		connCfg.DialTimeout = d
	}

	regCfg := registry.DefaultConfig()
	if prefix := md.Get(naming.KeyEtcdPrefix); prefix != "" {
		regCfg.Namespace = prefix
	}
	if raw := md.Get(naming.KeyTTL); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return nil, nil, xerrors.Wrapf(err, "metadata %q", naming.KeyTTL)
		}
		regCfg.DefaultTTL = d
	}
	return connCfg, regCfg, nil
}

// parseDuration 解析 "5s" 形式的时长，纯数字按毫秒
func parseDuration(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, xerrors.Wrapf(xerrors.ErrInvalidInput, "invalid duration %q", raw)
	}
	return d, nil
}
