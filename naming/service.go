package naming

import (
	"slices"
	"strings"
	"time"
)

// groupSeparator 分组与服务名之间、服务名与集群之间的分隔符
const groupSeparator = "@@"

// ServiceInfo 一个分组下某服务的实例集合
type ServiceInfo struct {
	Name        string      `json:"name"`
	GroupName   string      `json:"groupName"`
	Clusters    string      `json:"clusters,omitempty"` // 逗号分隔，空表示全部集群
	Instances   []*Instance `json:"instances"`
	LastRefTime time.Time   `json:"lastRefTime"`
}

// Key 返回缓存键：group@@name 或 group@@name@@clusters
func (s *ServiceInfo) Key() string {
	return ServiceKey(s.GroupName, s.Name, s.Clusters)
}

// HealthyInstances 返回健康且可选取的实例
func (s *ServiceInfo) HealthyInstances() []*Instance {
	return FilterInstances(s.Instances, true)
}

// ServiceKey 由分组、服务名、集群构造缓存键，group 为空时使用 DefaultGroup
func ServiceKey(group, service, clusters string) string {
	key := GroupedName(group, service)
	if clusters != "" {
		key += groupSeparator + clusters
	}
	return key
}

// GroupedName 返回 group@@service
func GroupedName(group, service string) string {
	if group == "" {
		group = DefaultGroup
	}
	return group + groupSeparator + service
}

// SplitGroupedName 拆分 group@@service，不含分隔符时分组为 DefaultGroup
func SplitGroupedName(name string) (group, service string) {
	if g, s, ok := strings.Cut(name, groupSeparator); ok {
		return g, s
	}
	return DefaultGroup, name
}

// JoinClusters 规范化集群列表：去空白、去重、排序后以逗号连接
func JoinClusters(clusters []string) string {
	if len(clusters) == 0 {
		return ""
	}
	out := make([]string, 0, len(clusters))
	for _, c := range clusters {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return strings.Join(slices.Compact(out), ",")
}

// SplitClusters 是 JoinClusters 的逆操作
func SplitClusters(clusters string) []string {
	if clusters == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(clusters, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// ListView 分页结果，返回后不可变
type ListView[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"` // 分页前的总数
}

// Page 对已排序的完整列表做分页，pageNo 从 1 开始；越界时返回空页
func Page[T any](all []T, pageNo, pageSize int) *ListView[T] {
	view := &ListView[T]{Count: len(all), Items: []T{}}
	if pageNo < 1 || pageSize < 1 {
		return view
	}
	start := (pageNo - 1) * pageSize
	if start >= len(all) {
		return view
	}
	end := min(start+pageSize, len(all))
	view.Items = append(view.Items, all[start:end]...)
	return view
}
