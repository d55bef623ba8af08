// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := map[string]ProfileType{
		"":       DEV,
		"dev":    DEV,
		" prod ": PROD,
		"Test":   TEST,
		"stage":  DEV,
	}
	for value, expected := range tests {
		t.Run(value, func(t *testing.T) {
			assert.Equal(t, expected, Parse(value))
		})
	}
}

func TestInitProfileReadsEnvironment(t *testing.T) {
	t.Cleanup(func() { Current = DEV })
	t.Setenv("PROFILE", "prod")

	InitProfile()

	assert.Equal(t, PROD, Current)
	assert.True(t, Current.JSONLogs())
	assert.False(t, DEV.JSONLogs())
}
