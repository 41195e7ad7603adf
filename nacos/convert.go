package nacos

import (
	"maps"

	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"

	"github.com/ceyewan/naming/naming"
)

func registerParam(group, service string, inst *naming.Instance) vo.RegisterInstanceParam {
	return vo.RegisterInstanceParam{
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		Weight:      inst.Weight,
		Enable:      inst.Enabled,
		Healthy:     inst.Healthy,
		Metadata:    maps.Clone(inst.Metadata),
		ClusterName: inst.Cluster(),
		ServiceName: service,
		GroupName:   group,
		Ephemeral:   inst.Ephemeral,
	}
}

func deregisterParam(group, service string, inst *naming.Instance) vo.DeregisterInstanceParam {
	return vo.DeregisterInstanceParam{
		Ip:          inst.IP,
		Port:        uint64(inst.Port),
		Cluster:     inst.Cluster(),
		ServiceName: service,
		GroupName:   group,
		Ephemeral:   inst.Ephemeral,
	}
}

// fromModel 转换 SDK 实例，名称以查询参数为准
func fromModel(group, service string, in model.Instance) *naming.Instance {
	return &naming.Instance{
		InstanceID:  in.InstanceId,
		ServiceName: service,
		GroupName:   group,
		IP:          in.Ip,
		Port:        int(in.Port),
		ClusterName: in.ClusterName,
		Weight:      in.Weight,
		Healthy:     in.Healthy,
		Enabled:     in.Enable,
		Ephemeral:   in.Ephemeral,
		Metadata:    maps.Clone(in.Metadata),
	}
}

func fromModels(group, service string, in []model.Instance) []*naming.Instance {
	out := make([]*naming.Instance, 0, len(in))
	for _, inst := range in {
		out = append(out, fromModel(group, service, inst))
	}
	return out
}
