// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvmflow/pvm/internal/config"
)

func TestSetupOtelWithoutTracing(t *testing.T) {
	o, err := SetupOtel(config.Tracing{Name: "pvm-test"})
	require.NoError(t, err)
	defer o.Stop(t.Context())

	assert.NotNil(t, o.meterProvider)
	assert.Nil(t, o.tracerprovider)
	require.NotNil(t, Api)
	assert.NotNil(t, Api.Requests)
	assert.NotNil(t, Api.Duration)
}

func TestSplitEndpoint(t *testing.T) {
	endpoint, insecure := splitEndpoint("http://collector:4318")
	assert.Equal(t, "collector:4318", endpoint)
	assert.True(t, insecure)

	endpoint, insecure = splitEndpoint("https://collector.example.com")
	assert.Equal(t, "collector.example.com", endpoint)
	assert.False(t, insecure)
}

func TestTransferHeader(t *testing.T) {
	ctx := context.WithValue(context.Background(), TransferHeaderKey("X-Correlation-Id"), "abc")

	assert.Equal(t, "abc", TransferHeader(ctx, "X-Correlation-Id"))
	assert.Empty(t, TransferHeader(ctx, "X-Other"))
}
