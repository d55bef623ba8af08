// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, conf map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(conf)
	require.NoError(t, err)
	fileName := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(fileName, data, 0o600))
	return fileName
}

func TestReadConfigFromFile(t *testing.T) {
	fileName := writeConfig(t, map[string]any{
		"name": "orders",
		"storage": map[string]any{
			"driver": "sqlite",
			"path":   "/var/lib/pvm/orders.db",
		},
		"engine": map[string]any{
			"historyLevel": "full",
			"retryWait":    "30s",
		},
		"executor": map[string]any{
			"workers":             2,
			"acquisitionInterval": "1s",
		},
		"tenants": []string{"acme", "globex"},
	})

	conf, err := ReadConfig(fileName)

	require.NoError(t, err)
	assert.Equal(t, "orders", conf.Name)
	assert.Equal(t, StorageDriverSqlite, conf.Storage.Driver)
	assert.Equal(t, "/var/lib/pvm/orders.db", conf.Storage.Path)
	assert.Equal(t, "full", conf.Engine.HistoryLevel)
	assert.Equal(t, 30*time.Second, conf.Engine.RetryWait)
	assert.Equal(t, 3, conf.Engine.JobRetries)
	assert.Equal(t, 2, conf.Executor.Workers)
	assert.Equal(t, time.Second, conf.Executor.AcquisitionInterval)
	assert.Equal(t, 5*time.Minute, conf.Executor.LockTime)
	assert.Equal(t, []string{"acme", "globex"}, conf.Tenants)
	assert.Equal(t, ":8080", conf.Server.Addr)
	assert.Equal(t, []string{"*"}, conf.Server.AllowedOrigins)
	assert.InDelta(t, 1.0, conf.Tracing.SampleRatio, 0)
}

func TestReadConfigFromEnvWithoutFile(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EXECUTOR_WORKERS", "4")
	t.Setenv("TENANTS", "acme,globex")

	conf, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, conf.Storage.Driver)
	assert.Equal(t, 4, conf.Executor.Workers)
	assert.Equal(t, []string{"acme", "globex"}, conf.Tenants)
	assert.Equal(t, "audit", conf.Engine.HistoryLevel)
}

func TestReadConfigRejectsUnknownStorage(t *testing.T) {
	fileName := writeConfig(t, map[string]any{
		"storage": map[string]any{"driver": "oracle"},
	})

	_, err := ReadConfig(fileName)

	assert.ErrorContains(t, err, "oracle")
}

func TestReadConfigRejectsSampleRatioAboveOne(t *testing.T) {
	fileName := writeConfig(t, map[string]any{
		"tracing": map[string]any{"enabled": true, "sampleRatio": 1.5},
	})

	_, err := ReadConfig(fileName)

	assert.ErrorContains(t, err, "sample ratio")
}
