package naming

import (
	"strings"
)

// SelectorTypeLabel 标签选择器类型
const SelectorTypeLabel = "label"

// Selector 服务列举的过滤条件，对门面不透明
type Selector interface {
	Type() string
	Expression() string
}

// Matcher 可在客户端本地求值的选择器
//
// 具体 Client 对实现了 Matcher 的选择器按实例求值：服务下任一实例匹配，
// 该服务即被选中。未实现 Matcher 的选择器会以 ErrUnsupportedSelector 拒绝。
type Matcher interface {
	Match(instance *Instance) bool
}

type labelOp int

const (
	opEquals labelOp = iota
	opNotEquals
	opExists
	opNotExists
)

type labelTerm struct {
	key   string
	op    labelOp
	value string
}

// LabelSelector 基于实例 Metadata 的标签选择器
//
// 表达式由逗号分隔的条件组成，所有条件同时满足才匹配：
//
//	env=prod        等于
//	env==prod       等于
//	zone!=us-east   不等于（键不存在也视为不等于）
//	canary          键存在
//	!canary         键不存在
type LabelSelector struct {
	expr  string
	terms []labelTerm
}

// ParseLabelSelector 解析标签表达式，空表达式匹配全部实例
func ParseLabelSelector(expr string) (*LabelSelector, error) {
	s := &LabelSelector{expr: strings.TrimSpace(expr)}
	if s.expr == "" {
		return s, nil
	}

	for _, raw := range strings.Split(s.expr, ",") {
		part := strings.TrimSpace(raw)
		if part == "" {
			return nil, &ArgumentError{Field: "selector", Reason: "empty term in " + expr}
		}

		var term labelTerm
		switch {
		case strings.Contains(part, "!="):
			k, v, _ := strings.Cut(part, "!=")
			term = labelTerm{key: strings.TrimSpace(k), op: opNotEquals, value: strings.TrimSpace(v)}
		case strings.Contains(part, "=="):
			k, v, _ := strings.Cut(part, "==")
			term = labelTerm{key: strings.TrimSpace(k), op: opEquals, value: strings.TrimSpace(v)}
		case strings.Contains(part, "="):
			k, v, _ := strings.Cut(part, "=")
			term = labelTerm{key: strings.TrimSpace(k), op: opEquals, value: strings.TrimSpace(v)}
		case strings.HasPrefix(part, "!"):
			term = labelTerm{key: strings.TrimSpace(part[1:]), op: opNotExists}
		default:
			term = labelTerm{key: part, op: opExists}
		}

		if term.key == "" || strings.ContainsAny(term.key, "!= ") {
			return nil, &ArgumentError{Field: "selector", Reason: "invalid term " + part}
		}
		s.terms = append(s.terms, term)
	}
	return s, nil
}

// MustLabelSelector 类似 ParseLabelSelector，解析失败时 panic
func MustLabelSelector(expr string) *LabelSelector {
	s, err := ParseLabelSelector(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *LabelSelector) Type() string {
	return SelectorTypeLabel
}

func (s *LabelSelector) Expression() string {
	return s.expr
}

func (s *LabelSelector) String() string {
	return s.Type() + ":" + s.expr
}

// Match 判断实例的 Metadata 是否满足全部条件
func (s *LabelSelector) Match(instance *Instance) bool {
	if instance == nil {
		return false
	}
	for _, t := range s.terms {
		v, ok := instance.Metadata[t.key]
		switch t.op {
		case opEquals:
			if !ok || v != t.value {
				return false
			}
		case opNotEquals:
			if ok && v == t.value {
				return false
			}
		case opExists:
			if !ok {
				return false
			}
		case opNotExists:
			if ok {
				return false
			}
		}
	}
	return true
}

// AsMatcher 将 Selector 转为 Matcher
//
// nil 返回 (nil, nil) 表示不过滤；label 类型但不是 *LabelSelector 的选择器
// 会按表达式重新解析；其它类型返回 ErrUnsupportedSelector。
func AsMatcher(sel Selector) (Matcher, error) {
	if sel == nil {
		return nil, nil
	}
	if m, ok := sel.(Matcher); ok {
		return m, nil
	}
	if sel.Type() == SelectorTypeLabel {
		return ParseLabelSelector(sel.Expression())
	}
	return nil, ErrUnsupportedSelector
}
