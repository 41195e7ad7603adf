package registry

import "github.com/ceyewan/naming/xerrors"

var (
	// ErrConnectorRequired 未提供 etcd 连接器
	ErrConnectorRequired = xerrors.New("registry: etcd connector is required")

	// ErrUnsupportedCodec 未知的实例编码格式
	ErrUnsupportedCodec = xerrors.New("registry: unsupported codec")

	// ErrLeaseLost 租约失效，临时实例将在重建租约后重新写入
	ErrLeaseLost = xerrors.New("registry: lease lost")
)
