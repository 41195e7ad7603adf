package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabelSelector(t *testing.T) {
	inst := &Instance{Metadata: map[string]string{"env": "prod", "zone": "a", "canary": "true"}}

	tests := []struct {
		expr  string
		match bool
	}{
		{expr: "", match: true},
		{expr: "env=prod", match: true},
		{expr: "env==prod", match: true},
		{expr: "env=dev", match: false},
		{expr: "env!=dev", match: true},
		{expr: "env!=prod", match: false},
		{expr: "region!=us", match: true},
		{expr: "canary", match: true},
		{expr: "!canary", match: false},
		{expr: "!region", match: true},
		{expr: "env=prod, zone=a", match: true},
		{expr: "env=prod,zone=b", match: false},
		{expr: "missing=", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sel, err := ParseLabelSelector(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, SelectorTypeLabel, sel.Type())
			assert.Equal(t, tt.match, sel.Match(inst))
		})
	}
}

func TestParseLabelSelector_Invalid(t *testing.T) {
	for _, expr := range []string{"env=prod,", "=prod", "!", "a b=c"} {
		_, err := ParseLabelSelector(expr)
		require.Error(t, err, expr)
		assert.ErrorIs(t, err, ErrInvalidArgument, expr)
	}

	assert.Panics(t, func() { MustLabelSelector(",") })
}

func TestLabelSelector_NilInstance(t *testing.T) {
	assert.False(t, MustLabelSelector("").Match(nil))
}

type opaqueSelector struct{ typ, expr string }

func (s opaqueSelector) Type() string       { return s.typ }
func (s opaqueSelector) Expression() string { return s.expr }

func TestAsMatcher(t *testing.T) {
	m, err := AsMatcher(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	label := MustLabelSelector("env=prod")
	m, err = AsMatcher(label)
	require.NoError(t, err)
	assert.Same(t, label, m)

	m, err = AsMatcher(opaqueSelector{typ: SelectorTypeLabel, expr: "env=prod"})
	require.NoError(t, err)
	assert.True(t, m.Match(&Instance{Metadata: map[string]string{"env": "prod"}}))

	_, err = AsMatcher(opaqueSelector{typ: "cmdb", expr: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedSelector)
}
