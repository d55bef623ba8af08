// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	StorageDriverMemory = "memory"
	StorageDriverSqlite = "sqlite"
)

type Config struct {
	Server   Server   `yaml:"server" json:"server"` // configuration of the operational REST server
	Name     string   `yaml:"name" json:"name" env:"APP_NAME" env-default:"pvm"`
	Storage  Storage  `yaml:"storage" json:"storage"`
	Engine   Engine   `yaml:"engine" json:"engine"`
	Executor Executor `yaml:"executor" json:"executor"`
	// Tenants served by the job executor, empty runs one executor for all tenants
	Tenants []string `yaml:"tenants" json:"tenants" env:"TENANTS" env-separator:","`
	Tracing Tracing  `yaml:"tracing" json:"tracing"`
}

type Server struct {
	Addr           string   `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins" env:"REST_API_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

type Storage struct {
	Driver string `yaml:"driver" json:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	// Path of the sqlite database file
	Path string `yaml:"path" json:"path" env:"STORAGE_PATH" env-default:"pvm.db"`
}

type Engine struct {
	HistoryLevel        string        `yaml:"historyLevel" json:"historyLevel" env:"ENGINE_HISTORY_LEVEL" env-default:"audit"`
	NodeId              int64         `yaml:"nodeId" json:"nodeId" env:"ENGINE_NODE_ID"`
	JobRetries          int           `yaml:"jobRetries" json:"jobRetries" env:"ENGINE_JOB_RETRIES" env-default:"3"`
	RetryWait           time.Duration `yaml:"retryWait" json:"retryWait" env:"ENGINE_RETRY_WAIT" env-default:"10s"`
	DefinitionCacheSize int           `yaml:"definitionCacheSize" json:"definitionCacheSize" env:"ENGINE_DEFINITION_CACHE_SIZE" env-default:"256"`
}

type Executor struct {
	Enabled               bool          `yaml:"enabled" json:"enabled" env:"EXECUTOR_ENABLED" env-default:"true"`
	Workers               int           `yaml:"workers" json:"workers" env:"EXECUTOR_WORKERS" env-default:"8"`
	AcquisitionInterval   time.Duration `yaml:"acquisitionInterval" json:"acquisitionInterval" env:"EXECUTOR_ACQUISITION_INTERVAL" env-default:"5s"`
	LockTime              time.Duration `yaml:"lockTime" json:"lockTime" env:"EXECUTOR_LOCK_TIME" env-default:"5m"`
	MaxJobsPerAcquisition int           `yaml:"maxJobsPerAcquisition" json:"maxJobsPerAcquisition" env:"EXECUTOR_MAX_JOBS_PER_ACQUISITION" env-default:"64"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"OTEL_TRACING_ENABLED" env-default:"false"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Name     string `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME" env-default:"pvm"`
	// SampleRatio of root spans that are recorded, child spans follow their parent
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" env:"OTEL_TRACES_SAMPLER_ARG" env-default:"1"`
	// TransferHeaders are copied from incoming requests into span attributes
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS" env-separator:","`
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverMemory, StorageDriverSqlite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}
	if c.Executor.Workers <= 0 {
		return fmt.Errorf("executor needs at least one worker, got %d", c.Executor.Workers)
	}
	return nil
}

// ReadConfig reads the configuration from fileName, or from the environment only when the file does not exist
func ReadConfig(fileName string) (Config, error) {
	c := Config{}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return Config{}, err
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func InitConfig() Config {
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	c, err := ReadConfig(fileName)
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}
