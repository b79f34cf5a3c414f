// Package config provides configuration loading and validation for anvilprune.
// Supports YAML files with environment variable overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a prune run.
type Config struct {
	Prune         PruneConfig         `yaml:"prune"`
	Backup        BackupConfig        `yaml:"backup"`
	Report        ReportConfig        `yaml:"report"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type PruneConfig struct {
	// Paths are world, dimension or region directories, or single containers.
	Paths         []string `yaml:"paths"`
	Threads       int      `yaml:"threads" env:"ANVILPRUNE_THREADS"`
	InhabitedTime int64    `yaml:"inhabitedTime" env:"ANVILPRUNE_INHABITED_TIME"`
	DryRun        bool     `yaml:"dryRun" env:"ANVILPRUNE_DRY_RUN"`
	DeleteRegions bool     `yaml:"deleteRegions" env:"ANVILPRUNE_DELETE_REGIONS"`
	OnChunkError  string   `yaml:"onChunkError" env:"ANVILPRUNE_ON_CHUNK_ERROR"`
	ExcludeDirs   []string `yaml:"excludeDirs" env:"ANVILPRUNE_EXCLUDE_DIRS"`
}

// BackupConfig selects where original containers are archived before they are
// modified. An empty Target disables backups.
type BackupConfig struct {
	Target string `yaml:"target" env:"ANVILPRUNE_BACKUP_TARGET"`
	Prefix string `yaml:"prefix" env:"ANVILPRUNE_BACKUP_PREFIX"`
	Level  string `yaml:"level" env:"ANVILPRUNE_BACKUP_LEVEL"`

	// Dir is the archive root for the fs target.
	Dir string `yaml:"dir" env:"ANVILPRUNE_BACKUP_DIR"`

	Endpoint  string `yaml:"endpoint" env:"ANVILPRUNE_S3_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"ANVILPRUNE_S3_BUCKET"`
	Region    string `yaml:"region" env:"ANVILPRUNE_S3_REGION"`
	AccessKey string `yaml:"accessKey" env:"ANVILPRUNE_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"ANVILPRUNE_S3_SECRET_KEY"`
}

type ReportConfig struct {
	Path string `yaml:"path" env:"ANVILPRUNE_REPORT"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"ANVILPRUNE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"ANVILPRUNE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"ANVILPRUNE_LOG_FORMAT"`
}

const (
	BackupTargetFS = "fs"
	BackupTargetS3 = "s3"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Prune: PruneConfig{
			Threads:       defaultThreads(),
			InhabitedTime: 100,
			OnChunkError:  "keep",
			ExcludeDirs:   []string{"entities", "poi"},
		},
		Backup: BackupConfig{
			Prefix: "anvilprune",
			Level:  "default",
			Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Load returns the defaults with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file over the defaults and applies environment
// overrides on top.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FatalConfigError{Field: "config", Err: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &FatalConfigError{Field: "config", Err: err}
	}
	return cfg, nil
}

// applyEnv overrides every field carrying an env tag whose variable is set.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	return applyEnvValue(reflect.ValueOf(cfg).Elem(), lookup)
}

func applyEnvValue(v reflect.Value, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := applyEnvValue(field, lookup); err != nil {
				return err
			}
			continue
		}
		name := t.Field(i).Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return &FatalConfigError{Field: name, Err: err}
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
