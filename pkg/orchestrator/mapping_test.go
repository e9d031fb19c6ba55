package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exprContext() map[string]any {
	return map[string]any{
		"request": map[string]any{
			"message": "pm kisan eligibility",
			"top_k":   float64(3),
		},
		"steps": map[string]any{
			"vector_search": map[string]any{
				"results": []any{
					map[string]any{"content": "PM-KISAN pays 6000 INR yearly", "vector_id": "v1"},
					map[string]any{"content": "", "vector_id": "v2"},
				},
			},
			"chat": nil,
		},
	}
}

func TestIsExpression(t *testing.T) {
	assert.True(t, IsExpression("${request.message}"))
	assert.True(t, IsExpression("  ${1 + 1}  "))
	assert.False(t, IsExpression("plain text"))
	assert.False(t, IsExpression("${unterminated"))
}

func TestEvalExpression(t *testing.T) {
	eval := NewEvaluator()

	t.Run("field access", func(t *testing.T) {
		value, err := eval.EvalExpression("${request.message}", exprContext())
		require.NoError(t, err)
		assert.Equal(t, "pm kisan eligibility", value)
	})

	t.Run("fallback operator", func(t *testing.T) {
		value, err := eval.EvalExpression("${request.missing || 5}", exprContext())
		require.NoError(t, err)
		assert.Equal(t, int64(5), value)
	})

	t.Run("null step output", func(t *testing.T) {
		value, err := eval.EvalExpression("${steps.chat}", exprContext())
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("non-expression passes through", func(t *testing.T) {
		value, err := eval.EvalExpression("literal", exprContext())
		require.NoError(t, err)
		assert.Equal(t, "literal", value)
	})

	t.Run("array transform", func(t *testing.T) {
		value, err := eval.EvalExpression(
			"${(steps.vector_search.results || []).map(function(r){ return r.content || '' }).filter(function(c){ return c.length > 0 })}",
			exprContext())
		require.NoError(t, err)
		assert.Equal(t, []any{"PM-KISAN pays 6000 INR yearly"}, value)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := eval.EvalExpression("${this is not javascript}", exprContext())
		assert.Error(t, err)
	})
}

func TestEvalCondition(t *testing.T) {
	eval := NewEvaluator()

	cases := []struct {
		expr string
		want bool
	}{
		{"steps.vector_search.results && steps.vector_search.results.length > 0", true},
		{"!steps.chat", true},
		{"request.explain !== false", true},
		{"request.top_k > 5", false},
		{"steps.chat && steps.chat.response", false},
	}

	for _, tc := range cases {
		got, err := eval.EvalCondition(tc.expr, exprContext())
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestMapInput(t *testing.T) {
	eval := NewEvaluator()

	t.Run("resolves nested templates", func(t *testing.T) {
		input := map[string]any{
			"query": "${request.message}",
			"top_k": "${request.top_k || 5}",
			"metadata": map[string]any{
				"source": "gateway",
				"first":  "${steps.vector_search.results[0].vector_id}",
			},
			"tags": []any{"static", "${request.message}"},
		}

		mapped, err := eval.MapInput(input, exprContext())
		require.NoError(t, err)

		assert.Equal(t, "pm kisan eligibility", mapped["query"])
		assert.Equal(t, float64(3), mapped["top_k"])
		assert.Equal(t, "v1", mapped["metadata"].(map[string]any)["first"])
		assert.Equal(t, []any{"static", "pm kisan eligibility"}, mapped["tags"].([]any))
	})

	t.Run("nil input is an empty payload", func(t *testing.T) {
		mapped, err := eval.MapInput(nil, exprContext())
		require.NoError(t, err)
		assert.Empty(t, mapped)
	})

	t.Run("expression error names the field", func(t *testing.T) {
		_, err := eval.MapInput(map[string]any{"bad": "${not valid js}"}, exprContext())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	})
}
