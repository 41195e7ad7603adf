package naming

import "slices"

// RegisterOptions 注册与注销的可选维度
type RegisterOptions struct {
	// GroupName 服务分组，空值为 DefaultGroup
	GroupName string
}

// Group 返回解析默认值后的分组
func (o RegisterOptions) Group() string {
	return groupOrDefault(o.GroupName)
}

// QueryOptions 查询、健康筛选、负载均衡选取的可选维度
type QueryOptions struct {
	// GroupName 服务分组，空值为 DefaultGroup
	GroupName string
	// Clusters 限定集群，空表示全部集群
	Clusters []string
	// NoSubscribe 为 true 时只查询不监听，零值在查询的同时于 Client 侧建立变更监听
	NoSubscribe bool
}

// Group 返回解析默认值后的分组
func (o QueryOptions) Group() string {
	return groupOrDefault(o.GroupName)
}

// Subscribed 报告查询是否需要同时建立监听
func (o QueryOptions) Subscribed() bool {
	return !o.NoSubscribe
}

// SubscribeOptions 订阅与取消订阅的可选维度
type SubscribeOptions struct {
	GroupName string
	Clusters  []string
}

// Group 返回解析默认值后的分组
func (o SubscribeOptions) Group() string {
	return groupOrDefault(o.GroupName)
}

// ListOptions 服务列举的可选维度
type ListOptions struct {
	GroupName string
	// Selector 服务级过滤条件，nil 表示不过滤
	Selector Selector
}

// Group 返回解析默认值后的分组
func (o ListOptions) Group() string {
	return groupOrDefault(o.GroupName)
}

func groupOrDefault(group string) string {
	if group == "" {
		return DefaultGroup
	}
	return group
}

// InClusters 判断集群是否在列表中，空列表匹配全部
func InClusters(cluster string, clusters []string) bool {
	if len(clusters) == 0 {
		return true
	}
	if cluster == "" {
		cluster = DefaultCluster
	}
	return slices.Contains(clusters, cluster)
}
