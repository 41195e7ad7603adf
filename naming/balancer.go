package naming

import (
	"math/rand/v2"
)

// FilterInstances 返回 Healthy == healthy 且可选取（启用、权重为正）的实例
func FilterInstances(instances []*Instance, healthy bool) []*Instance {
	out := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if inst != nil && inst.Healthy == healthy && inst.Selectable() {
			out = append(out, inst)
		}
	}
	return out
}

// FilterClusters 返回属于指定集群的实例，clusters 为空时原样返回
func FilterClusters(instances []*Instance, clusters []string) []*Instance {
	if len(clusters) == 0 {
		return instances
	}
	out := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if InClusters(inst.ClusterName, clusters) {
			out = append(out, inst)
		}
	}
	return out
}

// Balancer 从候选实例中选出一个
type Balancer interface {
	Pick(instances []*Instance) *Instance
}

// WeightedRandom 按权重随机选取，与 Nacos 客户端的选取策略一致
type WeightedRandom struct {
	// Rand 随机源，nil 时使用全局随机源
	Rand *rand.Rand
}

// Pick 在健康且可选取的实例中按权重随机选一个，没有候选时返回 nil
func (b WeightedRandom) Pick(instances []*Instance) *Instance {
	var total float64
	candidates := make([]*Instance, 0, len(instances))
	for _, inst := range instances {
		if inst != nil && inst.Healthy && inst.Selectable() {
			candidates = append(candidates, inst)
			total += inst.Weight
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var r float64
	if b.Rand != nil {
		r = b.Rand.Float64() * total
	} else {
		r = rand.Float64() * total
	}
	for _, inst := range candidates {
		r -= inst.Weight
		if r < 0 {
			return inst
		}
	}
	return candidates[len(candidates)-1]
}
