package config

import "github.com/ceyewan/naming/xerrors"

var (
	// ErrValidationFailed 配置为空或未通过校验
	ErrValidationFailed = xerrors.New("configuration validation failed")
	// ErrUnsupportedType 不支持的配置文件类型
	ErrUnsupportedType = xerrors.New("unsupported config file type")
)

// IsInvalidInput 检查错误是否为配置格式无效或验证失败
func IsInvalidInput(err error) bool {
	return xerrors.Is(err, ErrValidationFailed) || xerrors.Is(err, xerrors.ErrInvalidInput)
}

// WrapValidationError 包装验证错误
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrapf(xerrors.Join(ErrValidationFailed, err), "validation failed")
}
