package naming

import (
	"maps"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// 常用元数据键
const (
	KeyServerAddr  = "serverAddr"
	KeyNamespace   = "namespace"
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyAccessKey   = "accessKey"
	KeySecretKey   = "secretKey"
	KeyContextPath = "contextPath"
	KeyEndpoint    = "endpoint"
	KeyClusterName = "clusterName"
	KeyBackend     = "backend"
	KeyTimeout     = "timeout"
	KeyLogDir      = "logDir"
	KeyCacheDir    = "cacheDir"
	KeyLogLevel    = "logLevel"
	KeyEtcdPrefix  = "etcd.prefix"
	KeyTTL         = "ttl"
)

var secretKeys = map[string]bool{
	KeyPassword:  true,
	KeySecretKey: true,
	KeyAccessKey: true,
}

// Metadata 不可变的元数据集合
//
// 构造时复制输入，之后没有任何修改入口；所有读方法并发安全。
type Metadata struct {
	props map[string]string
}

// NewMetadata 复制 props 构造元数据，nil 得到空集合
func NewMetadata(props map[string]string) *Metadata {
	return &Metadata{props: maps.Clone(props)}
}

// Get 返回键对应的值，不存在时返回空串
func (m *Metadata) Get(key string) string {
	return m.props[key]
}

// Lookup 返回键对应的值及其是否存在
func (m *Metadata) Lookup(key string) (string, bool) {
	v, ok := m.props[key]
	return v, ok
}

// GetOrDefault 键不存在或为空时返回 def
func (m *Metadata) GetOrDefault(key, def string) string {
	if v := m.props[key]; v != "" {
		return v
	}
	return def
}

// Keys 返回排序后的键
func (m *Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m.props))
}

// Properties 返回全部键值的副本
func (m *Metadata) Properties() map[string]string {
	out := make(map[string]string, len(m.props))
	maps.Copy(out, m.props)
	return out
}

// Len 返回键值对数量
func (m *Metadata) Len() int {
	return len(m.props)
}

// String 以 k=v 形式输出，凭证类的值被遮蔽
func (m *Metadata) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		if secretKeys[k] && m.props[k] != "" {
			b.WriteString("******")
		} else {
			b.WriteString(m.props[k])
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Fingerprint 返回内容指纹，键值相同的两个 Metadata 指纹相同
func (m *Metadata) Fingerprint() uint64 {
	d := xxhash.New()
	for _, k := range m.Keys() {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(m.props[k])
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
