// Package connector 管理 etcd 连接的生命周期。
//
// 连接器与使用它的组件分离：registry 借用连接器的客户端，
// 除非显式声明所有权，否则不负责关闭它。
//
//	conn, err := connector.NewEtcd(&connector.EtcdConfig{
//		Endpoints: []string{"127.0.0.1:2379"},
//	}, connector.WithLogger(logger))
//	if err != nil {
//		panic(err)
//	}
//	defer conn.Close()
//
//	if err := conn.Connect(ctx); err != nil {
//		panic(err)
//	}
//	client := conn.GetClient()
//
// 资源释放遵循 LIFO 顺序：先关闭依赖连接器的组件，再关闭连接器。
package connector

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Connector 定义连接器的通用行为，所有方法并发安全
type Connector interface {
	// Connect 建立连接并启动后台健康检查，可重复调用
	Connect(ctx context.Context) error

	// Close 停止健康检查并关闭底层客户端，可重复调用
	Close() error

	// HealthCheck 实时探测连接，并刷新 IsHealthy 的缓存结果
	HealthCheck(ctx context.Context) error

	// IsHealthy 返回最近一次健康检查的结果，不阻塞
	IsHealthy() bool

	// Name 返回连接器实例名称，用于日志与指标
	Name() string
}

// TypedConnector 提供类型安全的客户端访问
type TypedConnector[T any] interface {
	Connector

	// GetClient 返回底层客户端，Close 之后不应再使用
	GetClient() T
}

// EtcdConnector etcd 连接器
type EtcdConnector interface {
	TypedConnector[*clientv3.Client]
}
