// Package config loads and validates the orchestrator configuration: server
// settings, cache and fetch tuning, and the declarative source registry with
// each source's normalization transform.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openreliefdata/datahub/pkg/normalize"
	"github.com/openreliefdata/datahub/pkg/sources"
)

// Duration is a time.Duration that unmarshals from YAML strings like "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Cache     CacheConfig     `yaml:"cache"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// ServerConfig defines the API listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// HTTPConfig defines outbound transport settings.
type HTTPConfig struct {
	Timeout          Duration `yaml:"timeout,omitempty"`
	MaxResponseBytes int64    `yaml:"maxResponseBytes,omitempty"`
}

// CacheConfig bounds the in-memory cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity,omitempty"`
}

// FetchConfig tunes the retry policy and fan-out.
type FetchConfig struct {
	BaseDelay     Duration `yaml:"baseDelay,omitempty"`
	MaxDelay      Duration `yaml:"maxDelay,omitempty"`
	MaxElapsed    Duration `yaml:"maxElapsed,omitempty"`
	MaxConcurrent int64    `yaml:"maxConcurrent,omitempty"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RateLimitConfig is a per-source admission quota.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// ParamConfig is one ordered query parameter.
type ParamConfig struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// ColumnConfig maps one output field to a tabular or workbook column.
type ColumnConfig struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	Type       string `yaml:"type"`
	Required   bool   `yaml:"required,omitempty"`
	TimeLayout string `yaml:"timeLayout,omitempty"`
}

// FieldConfig maps one output field to a path in a tree payload.
type FieldConfig struct {
	Name       string `yaml:"name"`
	Path       string `yaml:"path"`
	Type       string `yaml:"type"`
	Required   bool   `yaml:"required,omitempty"`
	TimeLayout string `yaml:"timeLayout,omitempty"`
}

// TransformConfig is the declarative normalization schema for one source.
type TransformConfig struct {
	Delimiter string         `yaml:"delimiter,omitempty"`
	Columns   []ColumnConfig `yaml:"columns,omitempty"`
	Sheet     string         `yaml:"sheet,omitempty"`
	RootPath  string         `yaml:"rootPath,omitempty"`
	Fields    []FieldConfig  `yaml:"fields,omitempty"`
}

// SourceConfig is the YAML shape of one source descriptor.
type SourceConfig struct {
	ID               string          `yaml:"id"`
	BaseAddress      string          `yaml:"baseAddress"`
	EndpointPath     string          `yaml:"endpointPath"`
	QueryParams      []ParamConfig   `yaml:"queryParams,omitempty"`
	Enabled          bool            `yaml:"enabled"`
	Priority         int             `yaml:"priority"`
	CacheTTL         Duration        `yaml:"cacheTtl"`
	MaxRetries       int             `yaml:"maxRetries"`
	RateLimit        RateLimitConfig `yaml:"rateLimit"`
	ReliabilityTier  string          `yaml:"reliabilityTier"`
	UpdateFrequency  string          `yaml:"updateFrequency"`
	PayloadKind      string          `yaml:"payloadKind"`
	CacheGranularity string          `yaml:"cacheGranularity"`
	Transform        TransformConfig `yaml:"transform"`
}

// Loader defines the interface for loading configuration.
type Loader interface {
	LoadConfig(path string) (*Config, error)
}

type loader struct{}

// NewLoader creates a new Loader instance.
func NewLoader() Loader {
	return &loader{}
}

// LoadConfig loads and parses configuration from a YAML file.
func (*loader) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &config, nil
}

// Validate checks the configuration by constructing the typed descriptors
// and transforms it declares.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	descriptors, err := c.Descriptors()
	if err != nil {
		return err
	}
	if _, err := sources.NewRegistry(descriptors); err != nil {
		return err
	}
	specs, err := c.TransformSpecs()
	if err != nil {
		return err
	}
	if _, err := normalize.New(specs); err != nil {
		return err
	}
	return nil
}

// Descriptors converts the source configs into validated descriptors.
func (c *Config) Descriptors() ([]sources.Descriptor, error) {
	out := make([]sources.Descriptor, 0, len(c.Sources))
	for _, sc := range c.Sources {
		params := make([]sources.Param, 0, len(sc.QueryParams))
		for _, p := range sc.QueryParams {
			params = append(params, sources.Param{Key: p.Key, Value: p.Value})
		}
		d := sources.Descriptor{
			ID:           sc.ID,
			BaseAddress:  sc.BaseAddress,
			EndpointPath: sc.EndpointPath,
			QueryParams:  params,
			Enabled:      sc.Enabled,
			Priority:     sc.Priority,
			CacheTTL:     sc.CacheTTL.Std(),
			MaxRetries:   sc.MaxRetries,
			RateLimit: sources.RateLimit{
				Requests: sc.RateLimit.Requests,
				Window:   sc.RateLimit.Window.Std(),
			},
			ReliabilityTier:  sources.ReliabilityTier(sc.ReliabilityTier),
			UpdateFrequency:  sources.UpdateFrequency(sc.UpdateFrequency),
			PayloadKind:      sources.PayloadKind(sc.PayloadKind),
			CacheGranularity: sources.CacheGranularity(sc.CacheGranularity),
		}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// TransformSpecs converts the per-source transform configs into validated
// normalization specs keyed by source id.
func (c *Config) TransformSpecs() (map[string]normalize.TransformSpec, error) {
	out := make(map[string]normalize.TransformSpec, len(c.Sources))
	for _, sc := range c.Sources {
		spec := normalize.TransformSpec{
			Kind:     sources.PayloadKind(sc.PayloadKind),
			Sheet:    sc.Transform.Sheet,
			RootPath: sc.Transform.RootPath,
		}
		if sc.Transform.Delimiter != "" {
			runes := []rune(sc.Transform.Delimiter)
			if len(runes) != 1 {
				return nil, fmt.Errorf("source %s: delimiter must be a single character", sc.ID)
			}
			spec.Delimiter = runes[0]
		}
		for _, col := range sc.Transform.Columns {
			spec.Columns = append(spec.Columns, normalize.Column{
				Name:       col.Name,
				Source:     col.Source,
				Type:       normalize.FieldType(col.Type),
				Required:   col.Required,
				TimeLayout: col.TimeLayout,
			})
		}
		for _, f := range sc.Transform.Fields {
			spec.Fields = append(spec.Fields, normalize.Field{
				Name:       f.Name,
				Path:       f.Path,
				Type:       normalize.FieldType(f.Type),
				Required:   f.Required,
				TimeLayout: f.TimeLayout,
			})
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.ID, err)
		}
		out[sc.ID] = spec
	}
	return out, nil
}

// Quotas returns the per-source rate-limit quotas.
func (c *Config) Quotas() map[string]sources.RateLimit {
	out := make(map[string]sources.RateLimit, len(c.Sources))
	for _, sc := range c.Sources {
		out[sc.ID] = sources.RateLimit{
			Requests: sc.RateLimit.Requests,
			Window:   sc.RateLimit.Window.Std(),
		}
	}
	return out
}
