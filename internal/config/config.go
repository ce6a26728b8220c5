// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the settings shared by the trackreader binaries.
// Settings are read from YAML, or bound through viper using the mapstructure
// tags, on top of the values returned by Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/googlegenomics/trackreader/internal/bgzf"
	"github.com/googlegenomics/trackreader/internal/cache"
	"github.com/googlegenomics/trackreader/reader"
)

// Config is the root of the settings tree.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Coalesce CoalesceConfig `yaml:"coalesce" mapstructure:"coalesce"`
	Reader   ReaderConfig   `yaml:"reader" mapstructure:"reader"`
}

// ServerConfig configures the feature service.
type ServerConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Directory string `yaml:"directory" mapstructure:"directory"`
	// Buckets, if not empty, restricts gs:// reads to these buckets.
	Buckets   []string `yaml:"buckets" mapstructure:"buckets"`
	Secure    bool     `yaml:"secure" mapstructure:"secure"`
	HTTPSCert string   `yaml:"https_cert" mapstructure:"https_cert"`
	HTTPSKey  string   `yaml:"https_key" mapstructure:"https_key"`
	// MaxReaders bounds the number of open files kept between requests.
	MaxReaders int    `yaml:"max_readers" mapstructure:"max_readers"`
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`
}

// CacheConfig sizes the range cache of each reader.
type CacheConfig struct {
	Padding    int64 `yaml:"padding" mapstructure:"padding"`
	MinFetch   int   `yaml:"min_fetch" mapstructure:"min_fetch"`
	MaxEntries int   `yaml:"max_entries" mapstructure:"max_entries"`
}

// CoalesceConfig bounds how index chunks are merged into fetches.
type CoalesceConfig struct {
	MaxGap  uint64 `yaml:"max_gap" mapstructure:"max_gap"`
	MaxSpan uint64 `yaml:"max_span" mapstructure:"max_span"`
}

// ReaderConfig configures query execution.
type ReaderConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// Aliases maps extra chromosome names onto names used in files.
	Aliases map[string]string `yaml:"aliases" mapstructure:"aliases"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:       8080,
			MaxReaders: 64,
			LogLevel:   "info",
		},
		Cache: CacheConfig{
			Padding:    cache.DefaultOptions.Padding,
			MinFetch:   cache.DefaultOptions.MinFetch,
			MaxEntries: cache.DefaultOptions.MaxEntries,
		},
		Coalesce: CoalesceConfig{
			MaxGap:  bgzf.DefaultMergeOptions.MaxGap,
			MaxSpan: bgzf.DefaultMergeOptions.MaxSpan,
		},
		Reader: ReaderConfig{
			Concurrency: 4,
		},
	}
}

// Load reads YAML settings from r over the defaults and validates them.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile reads settings from the YAML file at path.  An empty path yields
// the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Default(), fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Validate reports the first setting that is out of range.
func (cfg Config) Validate() error {
	switch {
	case cfg.Server.Port <= 0 || cfg.Server.Port > 65535:
		return fmt.Errorf("server.port %d is not a valid port", cfg.Server.Port)
	case cfg.Server.Secure && (cfg.Server.HTTPSCert == "" || cfg.Server.HTTPSKey == ""):
		return errors.New("server.secure requires both https_cert and https_key")
	case cfg.Server.MaxReaders <= 0:
		return fmt.Errorf("server.max_readers must be positive, not %d", cfg.Server.MaxReaders)
	case cfg.Cache.Padding < 0:
		return fmt.Errorf("cache.padding must not be negative, not %d", cfg.Cache.Padding)
	case cfg.Cache.MinFetch < 0:
		return fmt.Errorf("cache.min_fetch must not be negative, not %d", cfg.Cache.MinFetch)
	case cfg.Cache.MaxEntries <= 0:
		return fmt.Errorf("cache.max_entries must be positive, not %d", cfg.Cache.MaxEntries)
	case cfg.Coalesce.MaxGap == 0 || cfg.Coalesce.MaxSpan == 0:
		return errors.New("coalesce.max_gap and coalesce.max_span must be positive")
	case cfg.Reader.Concurrency <= 0:
		return fmt.Errorf("reader.concurrency must be positive, not %d", cfg.Reader.Concurrency)
	}
	if _, err := cfg.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (cfg Config) Level() (logrus.Level, error) {
	if cfg.Server.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return 0, fmt.Errorf("server.log_level: %w", err)
	}
	return level, nil
}

// ReaderOptions returns the reader options described by cfg, logging to log.
func (cfg Config) ReaderOptions(log logrus.FieldLogger) reader.Options {
	return reader.Options{
		Cache: cache.Options{
			Padding:    cfg.Cache.Padding,
			MinFetch:   cfg.Cache.MinFetch,
			MaxEntries: cfg.Cache.MaxEntries,
		},
		Merge: bgzf.MergeOptions{
			MaxGap:  cfg.Coalesce.MaxGap,
			MaxSpan: cfg.Coalesce.MaxSpan,
		},
		Concurrency: cfg.Reader.Concurrency,
		Aliases:     cfg.Reader.Aliases,
		Logger:      log,
	}
}
