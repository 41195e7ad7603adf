package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/naming/naming"
	"github.com/ceyewan/naming/xerrors"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "/naming/services", cfg.Namespace)
	assert.Equal(t, 30*time.Second, cfg.DefaultTTL)
	assert.Equal(t, time.Second, cfg.RetryInterval)
	assert.True(t, cfg.EnableCache)
	assert.Equal(t, 10*time.Second, cfg.CacheExpiration)
	assert.Equal(t, 10000, cfg.CacheCapacity)
	assert.Equal(t, CodecJSON, cfg.Codec)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
		wantNS  string
	}{
		{name: "规范化前缀", cfg: &Config{Namespace: "naming/svc/"}, wantNS: "/naming/svc"},
		{name: "根前缀", cfg: &Config{Namespace: "/"}, wantErr: xerrors.ErrInvalidInput},
		{name: "TTL 过短", cfg: &Config{DefaultTTL: 500 * time.Millisecond}, wantErr: xerrors.ErrInvalidInput},
		{name: "未知编码", cfg: &Config{Codec: "xml"}, wantErr: ErrUnsupportedCodec},
		{name: "msgpack", cfg: &Config{Codec: CodecMsgpack}, wantNS: "/naming/services"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNS, tt.cfg.Namespace)
		})
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	inst := naming.NewInstance("10.0.0.1", 8080)
	inst.Metadata = map[string]string{"env": "prod"}
	inst.Weight = 2.5

	for _, name := range []string{CodecJSON, CodecMsgpack} {
		t.Run(name, func(t *testing.T) {
			codec, err := newCodec(name)
			require.NoError(t, err)
			assert.Equal(t, name, codec.Name())

			data, err := codec.Marshal(inst)
			require.NoError(t, err)

			got := &naming.Instance{}
			require.NoError(t, codec.Unmarshal(data, got))
			assert.Equal(t, inst, got)
		})
	}
}

func TestKeyspace(t *testing.T) {
	ks := keyspace{namespace: "/naming/services"}
	inst := naming.NewInstance("10.0.0.1", 8080)
	inst.ClusterName = "bj"

	key := ks.instanceKey("g1", "orders", inst)
	assert.Equal(t, "/naming/services/g1/orders/bj/10.0.0.1:8080", key)
	assert.Equal(t, "/naming/services/g1/orders/", ks.servicePrefix("g1", "orders"))
	assert.Equal(t, "/naming/services/g1/", ks.groupPrefix("g1"))

	parts, ok := ks.parse(key)
	require.True(t, ok)
	assert.Equal(t, keyParts{group: "g1", service: "orders", cluster: "bj", address: "10.0.0.1:8080"}, parts)

	inst6 := naming.NewInstance("::1", 9000)
	parts, ok = ks.parse(ks.instanceKey(naming.DefaultGroup, "orders", inst6))
	require.True(t, ok)
	assert.Equal(t, "[::1]:9000", parts.address)
	assert.Equal(t, naming.DefaultCluster, parts.cluster)

	for _, bad := range []string{
		"/other/g1/orders/bj/10.0.0.1:8080",
		"/naming/services/g1/orders",
		"/naming/services/g1//bj/10.0.0.1:8080",
	} {
		_, ok := ks.parse(bad)
		assert.False(t, ok, bad)
	}
}

func TestInstanceID(t *testing.T) {
	inst := naming.NewInstance("10.0.0.1", 8080)
	assert.Equal(t, "10.0.0.1#8080#DEFAULT#g1@@orders", instanceID("g1", "orders", inst))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("serviceName", "orders"))
	assert.ErrorIs(t, validateName("serviceName", ""), naming.ErrInvalidArgument)
	assert.ErrorIs(t, validateName("serviceName", "a/b"), naming.ErrInvalidArgument)
	assert.ErrorIs(t, validateName("groupName", "a b"), naming.ErrInvalidArgument)
}
