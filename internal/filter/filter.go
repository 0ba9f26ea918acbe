// Package filter selects updates with CEL expressions.
//
// An expression sees three variables: slot (int), value (the update
// converted to its JSON form, null when absent) and absent (bool).
//
//	absent || value.lamports > 1000000
package filter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches CEL programs.
type Evaluator struct {
	env        *cel.Env
	prgCache   map[string]cel.Program
	cacheMutex sync.RWMutex
}

// NewEvaluator creates an evaluator with the update variables declared.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("slot", cel.IntType),
		cel.Variable("value", cel.DynType),
		cel.Variable("absent", cel.BoolType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Compile checks that expr is a valid boolean expression.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.getProgram(expr)
	return err
}

// Match evaluates expr against an update. An empty expression matches
// everything.
func (e *Evaluator) Match(expr string, slot uint64, value any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.getProgram(expr)
	if err != nil {
		return false, fmt.Errorf("failed to get CEL program: %w", err)
	}

	doc, err := toJSONValue(value)
	if err != nil {
		return false, fmt.Errorf("failed to convert value: %w", err)
	}

	out, _, err := prg.Eval(map[string]any{
		"slot":   int64(slot),
		"value":  doc,
		"absent": doc == nil,
	})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL condition must return boolean, got %T", out.Value())
	}
	return match, nil
}

func (e *Evaluator) getProgram(expr string) (cel.Program, error) {
	e.cacheMutex.RLock()
	prg, ok := e.prgCache[expr]
	e.cacheMutex.RUnlock()
	if ok {
		return prg, nil
	}

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double check
	if prg, ok := e.prgCache[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL condition must return boolean, got %s", out)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.prgCache[expr] = prg
	return prg, nil
}

// toJSONValue converts v to the generic form encoding/json decodes into.
func toJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
