package registry

import (
	"strconv"
	"strings"

	"github.com/ceyewan/naming/naming"
)

// Key 布局：
//
//	<namespace>/<group>/<service>/<cluster>/<ip>:<port>
//
// 服务前缀 <namespace>/<group>/<service>/ 下的全部 Key 构成一个服务的实例集合，
// 分组前缀 <namespace>/<group>/ 用于列举服务。
type keyspace struct {
	namespace string
}

func (k keyspace) groupPrefix(group string) string {
	return k.namespace + "/" + group + "/"
}

func (k keyspace) servicePrefix(group, service string) string {
	return k.groupPrefix(group) + service + "/"
}

func (k keyspace) instanceKey(group, service string, inst *naming.Instance) string {
	return k.servicePrefix(group, service) + inst.Cluster() + "/" + inst.Address()
}

// keyParts 从 Key 解析出的维度
type keyParts struct {
	group   string
	service string
	cluster string
	address string
}

// parse 解析 Key，格式不符时返回 false
func (k keyspace) parse(key string) (keyParts, bool) {
	rest, ok := strings.CutPrefix(key, k.namespace+"/")
	if !ok {
		return keyParts{}, false
	}
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) != 4 {
		return keyParts{}, false
	}
	for _, p := range parts {
		if p == "" {
			return keyParts{}, false
		}
	}
	return keyParts{group: parts[0], service: parts[1], cluster: parts[2], address: parts[3]}, true
}

// instanceID 生成与 Nacos 一致的实例 ID：ip#port#cluster#group@@service
func instanceID(group, service string, inst *naming.Instance) string {
	return inst.IP + "#" + strconv.Itoa(inst.Port) + "#" + inst.Cluster() + "#" + naming.GroupedName(group, service)
}

// validateName 校验会出现在 Key 中的名字
func validateName(field, name string) error {
	if name == "" {
		return &naming.ArgumentError{Field: field, Reason: "must not be empty"}
	}
	if strings.ContainsAny(name, "/ ") {
		return &naming.ArgumentError{Field: field, Reason: "must not contain '/' or spaces"}
	}
	return nil
}
