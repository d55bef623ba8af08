// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

// Package extensions contains the activiti:* extension elements that can be
// placed into extensionElements of a BPMN element.
package extensions

import "strings"

// TFieldExtension injects a fixed or expression value into a service task delegate.
type TFieldExtension struct {
	Name            string `xml:"name,attr"`
	StringValueAttr string `xml:"stringValue,attr"`
	ExpressionAttr  string `xml:"expression,attr"`
	StringValue     string `xml:"string"`
	Expression      string `xml:"expression"`
}

// GetValue returns the raw value of the field and whether it is an expression.
func (f TFieldExtension) GetValue() (value string, isExpression bool) {
	switch {
	case f.ExpressionAttr != "":
		return f.ExpressionAttr, true
	case strings.TrimSpace(f.Expression) != "":
		return strings.TrimSpace(f.Expression), true
	case f.StringValueAttr != "":
		return f.StringValueAttr, false
	}
	return strings.TrimSpace(f.StringValue), false
}

// TCallParameter is an activiti:in or activiti:out mapping of a call activity.
type TCallParameter struct {
	Source           string `xml:"source,attr"`
	SourceExpression string `xml:"sourceExpression,attr"`
	Target           string `xml:"target,attr"`
	Variables        string `xml:"variables,attr"`
}

// CopiesAll is true for <activiti:in variables="all"/>.
func (p TCallParameter) CopiesAll() bool {
	return strings.EqualFold(p.Variables, "all")
}

// SplitList splits the comma separated lists used by candidateUsers and candidateGroups.
func SplitList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return []string{}
	}
	parts := strings.Split(list, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}
