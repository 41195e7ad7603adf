package testkit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"

	"github.com/ceyewan/naming/connector"
)

// EtcdImage 测试使用的 etcd 镜像
const EtcdImage = "quay.io/coreos/etcd:v3.5.9"

// NewEtcdContainerConfig 启动 etcd 容器并返回连接配置，生命周期由 t.Cleanup 管理
//
// 设置 ETCD_ENDPOINTS 时直接使用已有集群，不启动容器；
// 没有可用的 Docker 时跳过测试。
func NewEtcdContainerConfig(t *testing.T) *connector.EtcdConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping etcd integration test in short mode")
	}

	if endpoints := os.Getenv("ETCD_ENDPOINTS"); endpoints != "" {
		return &connector.EtcdConfig{
			Name:        "test-etcd",
			Endpoints:   strings.Split(endpoints, ","),
			DialTimeout: 5 * time.Second,
		}
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcetcd.Run(ctx, EtcdImage)
	require.NoError(t, err, "failed to start etcd container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, "2379")
	require.NoError(t, err)

	return &connector.EtcdConfig{
		Name:        "test-etcd",
		Endpoints:   []string{fmt.Sprintf("%s:%s", host, mappedPort.Port())},
		DialTimeout: 5 * time.Second,
	}
}

// NewEtcdConnector 返回已连接的 etcd 连接器，测试结束时关闭
func NewEtcdConnector(t *testing.T) connector.EtcdConnector {
	t.Helper()
	cfg := NewEtcdContainerConfig(t)

	conn, err := connector.NewEtcd(cfg, connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create etcd connector")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for {
		if err = conn.Connect(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			require.NoError(t, err, "timeout waiting for etcd to be ready")
		case <-time.After(time.Second):
		}
	}

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}
