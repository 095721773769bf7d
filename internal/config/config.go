// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads ledgerstore configuration from a YAML file and environment variables.
package config

import (
	"io"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// Config is the whole ledgerstore configuration.
//
// Boolean fields default to false so that explicit false values in the file are not overwritten.
//
//nolint:vet // for readability
type Config struct {
	SQLiteURL    string `yaml:"sqliteURL" env:"LEDGERSTORE_SQLITE_URL" env-default:"file:data/" env-description:"SQLite URI of the store directory"`
	StateDir     string `yaml:"stateDir" env:"LEDGERSTORE_STATE_DIR" env-default:"." env-description:"Directory of the preferences file"`
	Workers      int    `yaml:"workers" env:"LEDGERSTORE_WORKERS" env-default:"4" env-description:"Background worker pool size"`
	DebugAddr    string `yaml:"debugAddr" env:"LEDGERSTORE_DEBUG_ADDR" env-default:"127.0.0.1:8089" env-description:"Debug handler listen address, '-' to disable"`
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"LEDGERSTORE_OTLP_ENDPOINT" env-description:"OTLP HTTP endpoint for traces"`

	Connections Connections `yaml:"connections"`
	Engine      Engine      `yaml:"engine"`
	Backup      Backup      `yaml:"backup"`
	Reports     Reports     `yaml:"reports"`
	Log         Log         `yaml:"log"`
}

// Connections configures the connection manager.
type Connections struct {
	Max           int           `yaml:"max" env:"LEDGERSTORE_CONNECTIONS_MAX" env-default:"5" env-description:"Soft limit of active connections"`
	IdleTimeout   time.Duration `yaml:"idleTimeout" env:"LEDGERSTORE_CONNECTIONS_IDLE_TIMEOUT" env-default:"30s"`
	CheckInterval time.Duration `yaml:"checkInterval" env:"LEDGERSTORE_CONNECTIONS_CHECK_INTERVAL" env-default:"10s"`
}

// Engine configures PRAGMAs applied on initialization.
type Engine struct {
	CacheSize   int64  `yaml:"cacheSize" env:"LEDGERSTORE_ENGINE_CACHE_SIZE" env-default:"4000"`
	TempStore   string `yaml:"tempStore" env:"LEDGERSTORE_ENGINE_TEMP_STORE" env-default:"MEMORY"`
	Synchronous string `yaml:"synchronous" env:"LEDGERSTORE_ENGINE_SYNCHRONOUS" env-default:"FULL"`
}

// Backup configures backups.
type Backup struct {
	Dir      string `yaml:"dir" env:"LEDGERSTORE_BACKUP_DIR" env-default:"db_backups"`
	Keep     int    `yaml:"keep" env:"LEDGERSTORE_BACKUP_KEEP" env-default:"5" env-description:"Number of scheduled backups to keep"`
	Compress bool   `yaml:"compress" env:"LEDGERSTORE_BACKUP_COMPRESS" env-description:"Write gzip-compressed backups"`
}

// Reports configures performance reports.
type Reports struct {
	Dir  string `yaml:"dir" env:"LEDGERSTORE_REPORTS_DIR" env-default:"db_performance_reports"`
	Keep int    `yaml:"keep" env:"LEDGERSTORE_REPORTS_KEEP" env-default:"10" env-description:"Number of performance reports to keep"`
}

// Log configures logging.
type Log struct {
	Level      string `yaml:"level" env:"LEDGERSTORE_LOG_LEVEL" env-default:"info"`
	Format     string `yaml:"format" env:"LEDGERSTORE_LOG_FORMAT" env-default:"console" env-description:"console or json"`
	File       string `yaml:"file" env:"LEDGERSTORE_LOG_FILE" env-description:"Log file, stderr if empty"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"LEDGERSTORE_LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"maxBackups" env:"LEDGERSTORE_LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"LEDGERSTORE_LOG_MAX_AGE_DAYS" env-default:"7"`
	Compress   bool   `yaml:"compress" env:"LEDGERSTORE_LOG_COMPRESS"`
}

// Load reads configuration from the YAML file at path (if not empty),
// then from environment variables, then applies defaults for unset values.
func Load(path string) (*Config, error) {
	var cfg Config

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}

	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks values that cleanenv can't.
func (cfg *Config) validate() error {
	switch {
	case cfg.Workers < 1:
		return lazyerrors.Errorf("workers must be positive, got %d", cfg.Workers)
	case cfg.Connections.Max < 1:
		return lazyerrors.Errorf("connections.max must be positive, got %d", cfg.Connections.Max)
	case cfg.Connections.IdleTimeout <= 0:
		return lazyerrors.Errorf("connections.idleTimeout must be positive, got %s", cfg.Connections.IdleTimeout)
	case cfg.Connections.CheckInterval <= 0:
		return lazyerrors.Errorf("connections.checkInterval must be positive, got %s", cfg.Connections.CheckInterval)
	case cfg.Backup.Keep < 0:
		return lazyerrors.Errorf("backup.keep must not be negative, got %d", cfg.Backup.Keep)
	case cfg.Reports.Keep < 0:
		return lazyerrors.Errorf("reports.keep must not be negative, got %d", cfg.Reports.Keep)
	}

	return nil
}

// Dump writes the effective configuration as YAML.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return lazyerrors.Error(err)
	}

	if err := enc.Close(); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// Usage writes the description of environment variables.
func Usage(w io.Writer) error {
	var cfg Config

	s, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return lazyerrors.Error(err)
	}

	_, err = io.WriteString(w, s+"\n")

	return err
}
