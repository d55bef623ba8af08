// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/cors"
)

// Cors allows the operational API to be called from the configured origins.
// Credentials are only allowed when the origins are listed explicitly.
func Cors(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", "Traceparent", "X-Correlation-Id"},
		ExposedHeaders:   []string{"Content-Length", "Traceparent"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           int((12 * time.Hour).Seconds()),
	})
}
