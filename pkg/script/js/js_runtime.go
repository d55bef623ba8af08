// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pvmflow/pvm/pkg/script"
)

const defaultProgramCacheSize = 1024

type JsRunnerFactory struct {
}

func (JsRunnerFactory) NewRunner() *JsRunner {
	return newJsRunner()
}

type JsRuntime struct {
	pool     *script.RunnerPool[*JsRunner]
	programs *lru.Cache[string, *goja.Program]
}

var _ script.JsRuntime = &JsRuntime{}

func NewJsRuntime(ctx context.Context, maxVmPoolSize int, minVmPoolSize int) (*JsRuntime, error) {
	pool, err := script.NewRunnerPool[*JsRunner](ctx, JsRunnerFactory{}, maxVmPoolSize, minVmPoolSize)
	if err != nil {
		return nil, err
	}
	programs, err := lru.New[string, *goja.Program](defaultProgramCacheSize)
	if err != nil {
		return nil, err
	}
	return &JsRuntime{
		pool:     pool,
		programs: programs,
	}, nil
}

func (r *JsRuntime) compile(source string) (*goja.Program, error) {
	if program, ok := r.programs.Get(source); ok {
		return program, nil
	}
	program, err := goja.Compile("", source, false)
	if err != nil {
		return nil, err
	}
	r.programs.Add(source, program)
	return program, nil
}

// RunScript never returns the runner to the pool, top level declarations of the script would leak into later runs.
func (r *JsRuntime) RunScript(source string, variables map[string]any, bindings map[string]any) (script.ScriptResult, error) {
	program, err := r.compile(source)
	if err != nil {
		return script.ScriptResult{}, fmt.Errorf("failed to compile script: %w", err)
	}
	runner := r.pool.GetRunnerFromPool()
	defer r.pool.DiscardRunner(runner)

	value, err := runner.run(program, variables, bindings)
	if err != nil {
		return script.ScriptResult{}, fmt.Errorf("error running script: %w", err)
	}
	globals := runner.globals(bindings)
	return script.ScriptResult{Value: value, Globals: globals}, nil
}

func (r *JsRuntime) Evaluate(expression string, variables map[string]any, bindings map[string]any) (any, error) {
	program, err := r.compile("(" + expression + "\n)")
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	runner := r.pool.GetRunnerFromPool()
	value, err := runner.run(program, variables, bindings)
	if runner.reset() {
		r.pool.ReturnRunnerToPool(runner)
	} else {
		r.pool.DiscardRunner(runner)
	}
	if err != nil {
		return nil, fmt.Errorf("error evaluating expression %q: %w", expression, err)
	}
	return value, nil
}

type JsRunner struct {
	vm       *goja.Runtime
	baseline []string
}

func (r *JsRunner) Runner() {}

func newJsRunner() *JsRunner {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	_ = vm.Set("__empty", isEmpty)
	return &JsRunner{
		vm:       vm,
		baseline: vm.GlobalObject().Keys(),
	}
}

func (r *JsRunner) run(program *goja.Program, variables map[string]any, bindings map[string]any) (any, error) {
	for name, value := range variables {
		if err := r.vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	for name, value := range bindings {
		if err := r.vm.Set(name, value); err != nil {
			return nil, err
		}
	}
	value, err := r.vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	return export(value), nil
}

// globals exports all global properties except bindings and runner helpers
func (r *JsRunner) globals(bindings map[string]any) map[string]any {
	res := map[string]any{}
	global := r.vm.GlobalObject()
	for _, key := range global.Keys() {
		if slices.Contains(r.baseline, key) {
			continue
		}
		if _, ok := bindings[key]; ok {
			continue
		}
		value := global.Get(key)
		if _, isFunction := goja.AssertFunction(value); isFunction {
			continue
		}
		res[key] = export(value)
	}
	return res
}

// reset removes globals set by the last run and reports whether the runner is clean again
func (r *JsRunner) reset() bool {
	global := r.vm.GlobalObject()
	clean := true
	for _, key := range global.Keys() {
		if slices.Contains(r.baseline, key) {
			continue
		}
		if err := global.Delete(key); err != nil {
			clean = false
		}
	}
	return clean
}

func export(value goja.Value) any {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil
	}
	return value.Export()
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return v.Len() == 0
	}
	return false
}
