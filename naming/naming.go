// Package naming 定义服务发现的领域模型与客户端能力，并提供携带元数据的转发门面。
//
// 核心概念：
//   - Client：注册中心客户端能力集合，覆盖注册、注销、查询、健康筛选、
//     负载均衡选取、订阅、分页列举、状态查询
//   - Delegating：门面，原样转发每个调用到底层 Client，同时持有构造它时
//     使用的不可变 Metadata
//   - Metadata：连接与配置元数据（地址、命名空间、凭证等），构造后不可变
//
// 可选维度（分组、集群、订阅、选择器）通过选项结构体传入，零值即默认值，
// 默认值由具体的 Client 解析，门面不做任何补全：
//
//	facade := naming.NewDelegating(client, naming.NewMetadata(map[string]string{
//		naming.KeyServerAddr: "127.0.0.1:8848",
//		naming.KeyNamespace:  "dev",
//	}))
//
//	inst := naming.NewInstance("10.0.0.5", 8080)
//	_ = facade.RegisterInstance(ctx, "orders", inst, naming.RegisterOptions{})
//
//	healthy, err := facade.SelectInstances(ctx, "orders", true, naming.QueryOptions{
//		GroupName:   "payments",
//		NoSubscribe: true,
//	})
//
// 具体的 Client 实现位于 registry（etcd）与 nacos 包，discovery 包负责根据
// Metadata 构造 Client 与门面。
package naming

const (
	// DefaultGroup 未指定分组时使用的分组名
	DefaultGroup = "DEFAULT_GROUP"

	// DefaultCluster 未指定集群时实例所属的集群
	DefaultCluster = "DEFAULT"

	// StatusUp 注册中心可达
	StatusUp = "UP"

	// StatusDown 注册中心不可达或客户端已关闭
	StatusDown = "DOWN"
)
