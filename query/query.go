// Package query compiles CEL expressions into store filters.
//
// The resource is bound to the variable r as its JSON form, so field names
// are the JSON names:
//
//	r.status.health == "Critical" && r.parent_uuid == "..."
//	r.capacity_bytes > 1e12
//	has(r.dsp_port_uuids) && size(r.dsp_port_uuids) > 1
//
// JSON numbers are doubles. Comparisons with int literals work for <, <=, >
// and >=; prefer double literals for equality.
package query

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/gami/model"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func environment() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("r", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return env, envErr
}

// Compile parses and type-checks expr. The expression must evaluate to a
// bool. An empty expression matches everything.
//
// Resources for which evaluation fails, for example on a missing key, do not
// match.
func Compile[T any](expr string) (model.Filter[T], error) {
	if expr == "" {
		return func(T) bool { return true }, nil
	}

	e, err := environment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, iss := e.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("invalid filter %q: result type %s is not bool", expr, ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}

	return func(v T) bool {
		fields, err := toMap(v)
		if err != nil {
			return false
		}
		out, _, err := prg.Eval(map[string]any{"r": fields})
		if err != nil {
			return false
		}
		matched, ok := out.Value().(bool)
		return ok && matched
	}, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
