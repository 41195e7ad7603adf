package breaker

import "github.com/ceyewan/naming/xerrors"

var (
	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrOpenState 熔断器处于打开状态，或半开状态下探测请求已满
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrInvalidRatio 失败率不在 (0, 1] 区间
	ErrInvalidRatio = xerrors.New("breaker: failure ratio must be in (0, 1]")
)
