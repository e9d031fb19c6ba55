package orchestrator

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Evaluator resolves ${...} input-mapping expressions and step conditions
// against the execution context. Expressions are JavaScript, evaluated with
// `request` bound to the original request payload and `steps` bound to a map
// of completed step outputs.
//
// A fresh VM is created per evaluation: goja runtimes are not safe for
// concurrent use, and steps evaluate concurrently.
type Evaluator struct{}

// NewEvaluator creates an expression evaluator
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// IsExpression reports whether a string value is a ${...} expression
func IsExpression(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}")
}

// EvalCondition evaluates a bare boolean expression
func (e *Evaluator) EvalCondition(expr string, context map[string]any) (bool, error) {
	result, err := e.run(expr, context)
	if err != nil {
		return false, err
	}
	return toBool(result), nil
}

// EvalExpression evaluates a ${...} wrapped expression string
func (e *Evaluator) EvalExpression(value string, context map[string]any) (any, error) {
	trimmed := strings.TrimSpace(value)
	if !IsExpression(trimmed) {
		return value, nil
	}

	expr := trimmed[2 : len(trimmed)-1]
	return e.run(expr, context)
}

// MapInput resolves every expression in a step's input template
func (e *Evaluator) MapInput(input map[string]any, context map[string]any) (map[string]any, error) {
	if input == nil {
		return map[string]any{}, nil
	}

	mapped, err := e.resolveValue(input, context)
	if err != nil {
		return nil, err
	}

	result, ok := mapped.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input mapping did not produce an object")
	}
	return result, nil
}

// resolveValue walks the template, evaluating expression strings in place
func (e *Evaluator) resolveValue(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.EvalExpression(v, context)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := e.resolveValue(item, context)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			result[key] = resolved
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			resolved, err := e.resolveValue(item, context)
			if err != nil {
				return nil, err
			}
			result[i] = resolved
		}
		return result, nil

	default:
		return value, nil
	}
}

// run evaluates a JavaScript expression in a fresh VM
func (e *Evaluator) run(expr string, context map[string]any) (any, error) {
	vm := goja.New()
	for key, value := range context {
		if err := vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to bind %q: %w", key, err)
		}
	}

	result, err := vm.RunString(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", firstLine(expr), err)
	}

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		return v != ""
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

func firstLine(expr string) string {
	expr = strings.TrimSpace(expr)
	if i := strings.IndexByte(expr, '\n'); i >= 0 {
		return expr[:i] + "..."
	}
	return expr
}
