// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package config loads the demo CLI's configuration: a YAML file overlaid
// with environment variables and struct-tag defaults, matching the layered
// config style used elsewhere in the pack (yaml.v3 + creasty/defaults +
// envconfig) rather than a bespoke flag-only setup.
package config

import (
	"fmt"
	"os"
	"reflect"

	"github.com/creasty/defaults"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the demo CLI's full configuration surface.
type Config struct {
	// BlobPath is the file the persistent encrypted blob is stored in.
	BlobPath string `yaml:"blob_path" envconfig:"CTAP2_BLOB_PATH" default:"ctap2-blob.cbor"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" envconfig:"CTAP2_LOG_LEVEL" default:"info"`
	// Verbose additionally logs source file:line for every record.
	Verbose bool `yaml:"verbose" envconfig:"CTAP2_VERBOSE" default:"false"`
	// AutoApprovePresence skips the interactive user-presence prompt,
	// intended for scripted demos and integration tests of the CLI only.
	AutoApprovePresence bool `yaml:"auto_approve_presence" envconfig:"CTAP2_AUTO_APPROVE_PRESENCE" default:"false"`
}

// Load builds a Config by applying struct-tag defaults, then a YAML file at
// path (if it exists), then environment variable overrides, in that order
// so the environment always wins.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: applying defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No config file is fine; defaults plus env vars still apply.
		default:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// envconfig also applies a field's `default` tag when its variable is
	// unset, which would discard a value read from the file; such fields
	// keep the value they had before envconfig ran.
	before := *cfg
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}
	v, prev := reflect.ValueOf(cfg).Elem(), reflect.ValueOf(before)
	for i := 0; i < v.NumField(); i++ {
		if _, ok := os.LookupEnv(v.Type().Field(i).Tag.Get("envconfig")); !ok {
			v.Field(i).Set(prev.Field(i))
		}
	}
	return cfg, nil
}
