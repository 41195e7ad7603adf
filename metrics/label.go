package metrics

// Label 指标标签
//
// 标签值应保持低基数：服务名、操作名可以，实例地址、请求 ID 不可以。
type Label struct {
	Key   string
	Value string
}

// L 创建一个 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}

// 常用标签
const (
	LabelService   = "service"
	LabelGroup     = "group"
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelMethod    = "method"
	LabelOutcome   = "outcome"
	LabelGRPCCode  = "grpc_code"
)

// 常用结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Outcome 根据 err 返回结果标签值
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
