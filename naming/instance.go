package naming

import (
	"maps"
	"net"
	"strconv"
)

// Instance 可注册的服务端点
//
// 身份由 (ServiceName, GroupName, IP, Port) 决定。ServiceName 与 GroupName
// 在注册时由调用参数确定，查询返回的实例会由 Client 填充。
type Instance struct {
	InstanceID  string            `json:"instanceId,omitempty" msgpack:"instanceId,omitempty"`
	ServiceName string            `json:"serviceName,omitempty" msgpack:"serviceName,omitempty"`
	GroupName   string            `json:"groupName,omitempty" msgpack:"groupName,omitempty"`
	IP          string            `json:"ip" msgpack:"ip"`
	Port        int               `json:"port" msgpack:"port"`
	ClusterName string            `json:"clusterName,omitempty" msgpack:"clusterName,omitempty"`
	Weight      float64           `json:"weight" msgpack:"weight"`
	Healthy     bool              `json:"healthy" msgpack:"healthy"`
	Enabled     bool              `json:"enabled" msgpack:"enabled"`
	Ephemeral   bool              `json:"ephemeral" msgpack:"ephemeral"`
	Metadata    map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// NewInstance 以默认属性创建实例：权重 1、健康、启用、临时实例、DEFAULT 集群
func NewInstance(ip string, port int) *Instance {
	return &Instance{
		IP:          ip,
		Port:        port,
		ClusterName: DefaultCluster,
		Weight:      1,
		Healthy:     true,
		Enabled:     true,
		Ephemeral:   true,
	}
}

// Address 返回 ip:port，IPv6 地址会加上方括号
func (i *Instance) Address() string {
	return net.JoinHostPort(i.IP, strconv.Itoa(i.Port))
}

// Cluster 返回实例所属集群，空值视为 DEFAULT
func (i *Instance) Cluster() string {
	if i.ClusterName == "" {
		return DefaultCluster
	}
	return i.ClusterName
}

// Clone 深拷贝实例
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	c := *i
	c.Metadata = maps.Clone(i.Metadata)
	return &c
}

// Selectable 实例是否参与健康筛选与负载均衡：启用且权重为正
func (i *Instance) Selectable() bool {
	return i.Enabled && i.Weight > 0
}

// Validate 校验注册所需的最小字段
func (i *Instance) Validate() error {
	if i == nil {
		return ErrInvalidArgument
	}
	if i.IP == "" {
		return &ArgumentError{Field: "ip", Reason: "must not be empty"}
	}
	if i.Port <= 0 || i.Port > 65535 {
		return &ArgumentError{Field: "port", Reason: "must be in 1..65535"}
	}
	if i.Weight < 0 {
		return &ArgumentError{Field: "weight", Reason: "must not be negative"}
	}
	return nil
}
