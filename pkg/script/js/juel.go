// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package js

import (
	"strings"
	"unicode"
)

var juelOperators = map[string]string{
	"and": "&&",
	"or":  "||",
	"not": "!",
	"eq":  "==",
	"ne":  "!=",
	"lt":  "<",
	"gt":  ">",
	"le":  "<=",
	"ge":  ">=",
	"div": "/",
	"mod": "%",
}

// TranslateJuel rewrites the body of a ${...} expression into JavaScript.
// Textual operators become their symbolic form and "empty x" becomes a call of the __empty helper.
func TranslateJuel(expression string) string {
	var sb strings.Builder
	runes := []rune(expression)
	for i := 0; i < len(runes); {
		c := runes[i]
		switch {
		case c == '\'' || c == '"':
			end := skipString(runes, i)
			sb.WriteString(string(runes[i:end]))
			i = end
		case isIdentStart(c) && (i == 0 || !isMemberAccess(runes, i)):
			end := i
			for end < len(runes) && isIdentPart(runes[end]) {
				end++
			}
			word := string(runes[i:end])
			if word == "empty" {
				operandStart := skipSpaces(runes, end)
				operandEnd := operandEnd(runes, operandStart)
				if operandEnd > operandStart {
					sb.WriteString("__empty(")
					sb.WriteString(TranslateJuel(string(runes[operandStart:operandEnd])))
					sb.WriteString(")")
					i = operandEnd
					continue
				}
			}
			if op, ok := juelOperators[word]; ok {
				sb.WriteString(op)
			} else {
				sb.WriteString(word)
			}
			i = end
		case isIdentStart(c):
			end := i
			for end < len(runes) && isIdentPart(runes[end]) {
				end++
			}
			sb.WriteString(string(runes[i:end]))
			i = end
		default:
			sb.WriteRune(c)
			i++
		}
	}
	return sb.String()
}

// isMemberAccess reports whether the identifier at i follows a dot, like the "empty" in a.empty
func isMemberAccess(runes []rune, i int) bool {
	j := i - 1
	for j >= 0 && unicode.IsSpace(runes[j]) {
		j--
	}
	return j >= 0 && runes[j] == '.'
}

func skipString(runes []rune, start int) int {
	quote := runes[start]
	for i := start + 1; i < len(runes); i++ {
		if runes[i] == '\\' {
			i++
			continue
		}
		if runes[i] == quote {
			return i + 1
		}
	}
	return len(runes)
}

func skipSpaces(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

// operandEnd finds the end of a parenthesized group or a property path like a.b[0].c
func operandEnd(runes []rune, start int) int {
	if start >= len(runes) {
		return start
	}
	if runes[start] == '(' {
		return closingBracket(runes, start)
	}
	i := start
	for i < len(runes) {
		switch {
		case isIdentPart(runes[i]) || runes[i] == '.':
			i++
		case runes[i] == '[':
			i = closingBracket(runes, i)
		default:
			return i
		}
	}
	return i
}

func closingBracket(runes []rune, start int) int {
	depth := 0
	for i := start; i < len(runes); i++ {
		switch runes[i] {
		case '\'', '"':
			i = skipString(runes, i) - 1
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(runes)
}

func isIdentStart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c)
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || unicode.IsDigit(c)
}

// Segment is a part of a text with embedded expressions.
type Segment struct {
	Text         string
	IsExpression bool
}

// SplitTemplate splits text into literal parts and bodies of ${...} or #{...} expressions.
func SplitTemplate(text string) []Segment {
	res := make([]Segment, 0, 1)
	runes := []rune(text)
	literalStart := 0
	for i := 0; i < len(runes)-1; i++ {
		if (runes[i] != '$' && runes[i] != '#') || runes[i+1] != '{' {
			continue
		}
		end := closingBracket(runes, i+1)
		if end > len(runes) || runes[end-1] != '}' {
			break
		}
		if i > literalStart {
			res = append(res, Segment{Text: string(runes[literalStart:i])})
		}
		res = append(res, Segment{Text: string(runes[i+2 : end-1]), IsExpression: true})
		literalStart = end
		i = end - 1
	}
	if literalStart < len(runes) {
		res = append(res, Segment{Text: string(runes[literalStart:])})
	}
	return res
}
