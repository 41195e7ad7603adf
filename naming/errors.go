package naming

import (
	"fmt"

	"github.com/ceyewan/naming/xerrors"
)

// 错误类别，RegistryError.Kind 取其中之一
var (
	// ErrRegistration 注册或注销失败
	ErrRegistration = xerrors.New("naming: registration failed")

	// ErrQuery 查询、筛选或列举失败
	ErrQuery = xerrors.New("naming: query failed")

	// ErrNoAvailableInstance 查询成功但没有满足条件的实例
	ErrNoAvailableInstance = xerrors.New("naming: no available instance")

	// ErrSubscription 订阅或取消订阅失败
	ErrSubscription = xerrors.New("naming: subscription failed")
)

// 错误原因，作为 RegistryError.Err 或其链上的一环
var (
	ErrInvalidArgument     = xerrors.New("naming: invalid argument")
	ErrUnsupportedSelector = xerrors.New("naming: unsupported selector")
	ErrClientClosed        = xerrors.New("naming: client closed")
	ErrServiceNotFound     = xerrors.New("naming: service not found")
)

// RegistryError 注册中心客户端返回的错误
//
//	var re *naming.RegistryError
//	if errors.As(err, &re) && errors.Is(err, naming.ErrQuery) { ... }
type RegistryError struct {
	Kind    error  // ErrRegistration | ErrQuery | ErrNoAvailableInstance | ErrSubscription
	Op      string // 操作名，如 "register"
	Service string // 分组后的服务名，可能为空
	Err     error  // 原因
}

// NewError 构造 RegistryError
func NewError(kind error, op, service string, err error) *RegistryError {
	return &RegistryError{Kind: kind, Op: op, Service: service, Err: err}
}

func (e *RegistryError) Error() string {
	msg := e.Op
	if e.Service != "" {
		msg += " " + e.Service
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

// Unwrap 同时暴露类别与原因
func (e *RegistryError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ArgumentError 参数校验失败，Is(ErrInvalidArgument) 为 true
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("naming: invalid argument %s: %s", e.Field, e.Reason)
}

func (e *ArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// IsRegistryError 判断 err 链上是否存在 RegistryError
func IsRegistryError(err error) bool {
	var re *RegistryError
	return xerrors.As(err, &re)
}
