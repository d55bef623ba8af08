// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package feel

import (
	"fmt"
	"strconv"

	"github.com/pbinitiative/feel"

	"github.com/pvmflow/pvm/pkg/script"
)

// FeelRuntime evaluates FEEL expressions. The interpreter is stateless so no runner pool is needed.
type FeelRuntime struct{}

var _ script.FeelRuntime = &FeelRuntime{}

func NewFeelRuntime() *FeelRuntime {
	return &FeelRuntime{}
}

func (r *FeelRuntime) Evaluate(expression string, variableContext map[string]any) (any, error) {
	res, err := feel.EvalStringWithScope(expression, variableContext)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate feel expression %q: %w", expression, err)
	}
	return normalize(res), nil
}

func (r *FeelRuntime) UnaryTest(expression string, variableContext map[string]any) (bool, error) {
	res, err := r.Evaluate(expression, variableContext)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("feel expression %q evaluated to %T instead of boolean", expression, res)
	}
	return b, nil
}

// normalize turns interpreter values into plain Go values stored as process variables
func normalize(value any) any {
	switch v := value.(type) {
	case nil, bool, string, int64, float64:
		return v
	case map[string]any:
		res := make(map[string]any, len(v))
		for key, item := range v {
			res[key] = normalize(item)
		}
		return res
	case []any:
		res := make([]any, len(v))
		for i, item := range v {
			res[i] = normalize(item)
		}
		return res
	case fmt.Stringer:
		s := v.String()
		if s == "null" {
			return nil
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	}
	return value
}
