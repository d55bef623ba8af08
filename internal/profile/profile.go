// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package profile

import (
	"fmt"
	"os"
	"strings"
)

type ProfileType string

var Current = DEV // dev profile as default

const (
	DEV  ProfileType = "DEV"
	TEST ProfileType = "TEST"
	PROD ProfileType = "PROD"
)

// Parse returns the profile named by value, unknown names fall back to DEV
func Parse(value string) ProfileType {
	switch ProfileType(strings.ToUpper(strings.TrimSpace(value))) {
	case TEST:
		return TEST
	case PROD:
		return PROD
	}
	return DEV
}

func InitProfile() {
	Current = Parse(os.Getenv("PROFILE"))
	fmt.Printf("Current profile: %s\n", Current)
}

// JSONLogs tells loggers to write machine readable output
func (p ProfileType) JSONLogs() bool {
	return p == PROD
}
