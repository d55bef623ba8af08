// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package script

type FeelRuntime interface {
	UnaryTest(expression string, variableContext map[string]any) (bool, error)
	Evaluate(expression string, variableContext map[string]any) (any, error)
}

// ScriptResult holds the completion value of a script and the global variables it left behind.
type ScriptResult struct {
	Value   any
	Globals map[string]any
}

type JsRuntime interface {
	// RunScript runs script with variables and bindings exposed as globals.
	// Bindings are host objects like the current execution and are not reported back in ScriptResult.Globals.
	RunScript(script string, variables map[string]any, bindings map[string]any) (ScriptResult, error)
	// Evaluate returns the value of a single JavaScript expression.
	Evaluate(expression string, variables map[string]any, bindings map[string]any) (any, error)
}
