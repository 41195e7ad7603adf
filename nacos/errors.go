package nacos

import "github.com/ceyewan/naming/xerrors"

var (
	// ErrServerAddrRequired 未配置 Nacos 服务地址
	ErrServerAddrRequired = xerrors.New("nacos: server address is required")
	// ErrOperationRejected 服务端返回失败但没有给出错误
	ErrOperationRejected = xerrors.New("nacos: operation rejected by server")
)
