// Package config declares the YAML configuration surface for an agentdb
// deployment: a fleet of collections plus snapshot storage settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qLeviathan/agentdb/cache"
	"github.com/qLeviathan/agentdb/metadata"
)

// Fleet is the top-level configuration: every collection the store serves
// plus the snapshot backend.
type Fleet struct {
	Collections []Collection   `yaml:"collections"`
	Snapshot    SnapshotConfig `yaml:"snapshot"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Collection configures a single named collection.
type Collection struct {
	Name           string             `yaml:"name"`
	Dimension      int                `yaml:"dimension"`
	IndexKind      string             `yaml:"index_kind"`      // flat, hnsw, ivf
	DistanceMetric string             `yaml:"distance_metric"` // cosine, euclidean
	HNSW           HNSWConfig         `yaml:"hnsw"`
	IVF            IVFConfig          `yaml:"ivf"`
	Quantization   QuantizationConfig `yaml:"quantization"`
	Schema         []SchemaField      `yaml:"schema"`
	Cache          CacheConfig        `yaml:"cache"`
	Buffer         BufferConfig       `yaml:"buffer"`
}

// HNSWConfig holds graph construction and search parameters.
type HNSWConfig struct {
	M              int `yaml:"m"`
	EFConstruction int `yaml:"ef_construction"`
	EFSearch       int `yaml:"ef_search"`
}

// IVFConfig holds inverted-file partitioning parameters.
type IVFConfig struct {
	NList  int `yaml:"nlist"`
	NProbe int `yaml:"nprobe"`
}

// QuantizationConfig enables scalar quantization of stored vectors.
type QuantizationConfig struct {
	Enabled bool `yaml:"enabled"`
	Bits    int  `yaml:"bits"` // 4 or 8
}

// SchemaField declares one metadata field, optionally with a secondary index.
type SchemaField struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Index string `yaml:"index"` // "", ordered, set
}

// Duration decodes YAML duration strings such as "5m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// CacheConfig holds query/record cache settings.
type CacheConfig struct {
	Policy   string   `yaml:"policy"` // lru, lfu, ttl
	Capacity int      `yaml:"capacity"`
	TTL      Duration `yaml:"ttl"`
}

// BufferConfig holds batch write buffer settings.
type BufferConfig struct {
	MaxBatch     int    `yaml:"max_batch"`
	Backpressure string `yaml:"backpressure"` // block, reject
}

// SnapshotConfig selects the snapshot backend and compression.
type SnapshotConfig struct {
	Backend     string      `yaml:"backend"`     // memory, local, s3
	Compression string      `yaml:"compression"` // zstd, lz4, none
	Path        string      `yaml:"path"`        // local backend root
	S3          S3Config    `yaml:"s3"`
	Retry       RetryConfig `yaml:"retry"`
	UploadRate  int         `yaml:"upload_rate"` // bytes/sec cap, 0 = unlimited
}

// S3Config holds object storage connection settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RetryConfig bounds snapshot I/O retries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

// Load reads a fleet configuration from a YAML file, expanding ${VAR} and
// ${VAR:-default} references against the environment.
func Load(path string) (Fleet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Fleet{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a fleet configuration from raw YAML.
func Parse(data []byte) (Fleet, error) {
	data = expandEnvVars(data)

	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fleet{}, fmt.Errorf("parse config: %w", err)
	}

	f.ApplyDefaults()

	if err := f.Validate(); err != nil {
		return Fleet{}, fmt.Errorf("invalid config: %w", err)
	}
	return f, nil
}

// ApplyDefaults fills empty fields with default values.
func (f *Fleet) ApplyDefaults() {
	if f.Snapshot.Backend == "" {
		f.Snapshot.Backend = "memory"
	}
	if f.Snapshot.Compression == "" {
		f.Snapshot.Compression = "zstd"
	}
	if f.Snapshot.Retry.MaxAttempts <= 0 {
		f.Snapshot.Retry.MaxAttempts = 3
	}
	if f.Snapshot.Retry.BaseDelay <= 0 {
		f.Snapshot.Retry.BaseDelay = Duration(100 * time.Millisecond)
	}
	if f.Logging.Level == "" {
		f.Logging.Level = "info"
	}
	if f.Logging.Format == "" {
		f.Logging.Format = "text"
	}
	for i := range f.Collections {
		f.Collections[i].ApplyDefaults()
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Collection) ApplyDefaults() {
	if c.IndexKind == "" {
		c.IndexKind = "flat"
	}
	if c.DistanceMetric == "" {
		c.DistanceMetric = "cosine"
	}
	if c.IndexKind == "hnsw" {
		if c.HNSW.M <= 0 {
			c.HNSW.M = 16
		}
		if c.HNSW.EFConstruction <= 0 {
			c.HNSW.EFConstruction = 200
		}
		if c.HNSW.EFSearch <= 0 {
			c.HNSW.EFSearch = 100
		}
	}
	if c.IndexKind == "ivf" && c.IVF.NProbe <= 0 {
		c.IVF.NProbe = 8
	}
	if c.Quantization.Enabled && c.Quantization.Bits == 0 {
		c.Quantization.Bits = 8
	}
	if c.Cache.Policy == "" {
		c.Cache.Policy = string(cache.PolicyLRU)
	}
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = 1024
	}
	if c.Buffer.MaxBatch <= 0 {
		c.Buffer.MaxBatch = 256
	}
	if c.Buffer.Backpressure == "" {
		c.Buffer.Backpressure = "block"
	}
}

// Validate checks the configuration for correctness.
func (f *Fleet) Validate() error {
	seen := make(map[string]bool, len(f.Collections))
	for i := range f.Collections {
		c := &f.Collections[i]
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate collection name %q", c.Name)
		}
		seen[c.Name] = true
	}

	switch f.Snapshot.Backend {
	case "memory", "local", "s3":
	default:
		return fmt.Errorf("snapshot.backend must be memory, local or s3, got %q", f.Snapshot.Backend)
	}
	if f.Snapshot.Backend == "local" && f.Snapshot.Path == "" {
		return fmt.Errorf("snapshot.path is required for the local backend")
	}
	if f.Snapshot.Backend == "s3" {
		if f.Snapshot.S3.Endpoint == "" || f.Snapshot.S3.Bucket == "" {
			return fmt.Errorf("snapshot.s3.endpoint and snapshot.s3.bucket are required for the s3 backend")
		}
	}
	switch f.Snapshot.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("snapshot.compression must be zstd, lz4 or none, got %q", f.Snapshot.Compression)
	}
	if f.Snapshot.UploadRate < 0 {
		return fmt.Errorf("snapshot.upload_rate must not be negative")
	}

	switch f.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", f.Logging.Level)
	}
	return nil
}

// Validate checks a single collection configuration.
func (c *Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection name is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("collection %s: dimension must be positive, got %d", c.Name, c.Dimension)
	}

	switch c.IndexKind {
	case "flat", "hnsw":
	case "ivf":
		if c.IVF.NList <= 0 {
			return fmt.Errorf("collection %s: ivf.nlist is required for the ivf index", c.Name)
		}
	default:
		return fmt.Errorf("collection %s: index_kind must be flat, hnsw or ivf, got %q", c.Name, c.IndexKind)
	}

	switch c.DistanceMetric {
	case "cosine", "euclidean":
	default:
		return fmt.Errorf("collection %s: distance_metric must be cosine or euclidean, got %q", c.Name, c.DistanceMetric)
	}

	if c.Quantization.Enabled && c.Quantization.Bits != 4 && c.Quantization.Bits != 8 {
		return fmt.Errorf("collection %s: quantization.bits must be 4 or 8, got %d", c.Name, c.Quantization.Bits)
	}

	if _, err := cache.ParsePolicy(c.Cache.Policy); err != nil {
		return fmt.Errorf("collection %s: %w", c.Name, err)
	}
	if c.Cache.Policy == string(cache.PolicyTTL) && c.Cache.TTL <= 0 {
		return fmt.Errorf("collection %s: cache.ttl is required for the ttl policy", c.Name)
	}

	switch c.Buffer.Backpressure {
	case "block", "reject":
	default:
		return fmt.Errorf("collection %s: buffer.backpressure must be block or reject, got %q", c.Name, c.Buffer.Backpressure)
	}

	seen := make(map[string]bool, len(c.Schema))
	for _, sf := range c.Schema {
		if sf.Name == "" {
			return fmt.Errorf("collection %s: schema field name is required", c.Name)
		}
		if seen[sf.Name] {
			return fmt.Errorf("collection %s: duplicate schema field %q", c.Name, sf.Name)
		}
		seen[sf.Name] = true

		ft := metadata.FieldType(sf.Type)
		if !ft.Valid() {
			return fmt.Errorf("collection %s: field %s: unknown type %q", c.Name, sf.Name, sf.Type)
		}
		switch sf.Index {
		case "":
		case string(metadata.IndexOrdered):
			if !ft.Orderable() {
				return fmt.Errorf("collection %s: field %s: ordered index requires a number or timestamp field", c.Name, sf.Name)
			}
		case string(metadata.IndexSet):
			if ft.Orderable() {
				return fmt.Errorf("collection %s: field %s: set index requires a string, boolean or string-set field", c.Name, sf.Name)
			}
		default:
			return fmt.Errorf("collection %s: field %s: index must be ordered or set, got %q", c.Name, sf.Name, sf.Index)
		}
	}
	return nil
}

// MetadataSchema converts the declared fields into a metadata.Schema plus
// the secondary index kinds keyed by field name.
func (c *Collection) MetadataSchema() (metadata.Schema, map[string]metadata.IndexKind) {
	schema := make(metadata.Schema, 0, len(c.Schema))
	kinds := make(map[string]metadata.IndexKind)
	for _, sf := range c.Schema {
		schema = append(schema, metadata.Field{
			Name: sf.Name,
			Type: metadata.FieldType(sf.Type),
		})
		if sf.Index != "" {
			kinds[sf.Name] = metadata.IndexKind(sf.Index)
		}
	}
	return schema, kinds
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment
// variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
