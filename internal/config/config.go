// Package config provides configuration loading for the lakehouse pipeline.
//
// Configuration is read once at process start (environment variables, optionally
// overridden by CLI flags) into a Config value that is passed explicitly to every
// component. Components never read the environment themselves.
package config

import (
	"fmt"
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thiagogfgf/lakehouse-platform/internal/partition"
)

// Environment keys. Viper matches them case-insensitively.
const (
	KeyYear           = "NYC_TAXI_YEAR"
	KeyMonth          = "NYC_TAXI_MONTH"
	KeyCategory       = "NYC_TAXI_COLOR"
	KeySampleFraction = "NYC_TAXI_SAMPLE_FRACTION"
	KeySampleSeed     = "NYC_TAXI_SAMPLE_SEED"
	KeySourceBaseURL  = "NYC_TAXI_BASE_URL"
	KeyFetchTimeout   = "FETCH_TIMEOUT_SECONDS"
	KeyFetchRateLimit = "FETCH_RATE_LIMIT"
	KeyStagingDir     = "STAGING_DIR"

	KeyStorageEndpoint = "MINIO_ENDPOINT"
	KeyAccessKey       = "AWS_ACCESS_KEY_ID"
	KeySecretKey       = "AWS_SECRET_ACCESS_KEY"
	KeyRegion          = "AWS_REGION"
	KeyBucket          = "RAW_BUCKET"
	KeyPrefix          = "RAW_PREFIX"
	KeyCreateBucket    = "CREATE_BUCKET"

	KeyCatalogHost      = "TRINO_HOST"
	KeyCatalogPort      = "TRINO_PORT"
	KeyCatalogUser      = "TRINO_USER"
	KeyCatalogName      = "CATALOG_NAME"
	KeyCatalogSchema    = "CATALOG_SCHEMA"
	KeyCatalogTable     = "CATALOG_TABLE"
	KeyCatalogTableSpec = "CATALOG_TABLE_SPEC"
	KeyCatalogTimeout   = "CATALOG_TIMEOUT_SECONDS"

	KeyDBTBin        = "DBT_BIN"
	KeyDBTProjectDir = "DBT_PROJECT_DIR"

	KeyRetries       = "RETRIES"
	KeyRetryDelay    = "RETRY_DELAY_SECONDS"
	KeyRetryFailFast = "RETRY_FAIL_FAST"
	KeyMaxParallel   = "MAX_PARALLEL"

	KeyLogLevel  = "LOG_LEVEL"
	KeyLogFormat = "LOG_FORMAT"

	KeyTemporalAddress   = "TEMPORAL_ADDRESS"
	KeyTemporalNamespace = "TEMPORAL_NAMESPACE"
	KeyTemporalTaskQueue = "TEMPORAL_TASK_QUEUE"
)

// Config is the full pipeline configuration.
type Config struct {
	Partition partition.Key
	Source    SourceConfig
	Storage   StorageConfig
	Catalog   CatalogConfig
	Transform TransformConfig
	Retry     RetryConfig
	Log       LogConfig
	Temporal  TemporalConfig

	// MaxParallel bounds how many independent tasks may run at once.
	MaxParallel int
}

// SourceConfig controls fetching and sampling of the raw artifact.
type SourceConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RateLimit      float64
	StagingDir     string
	SampleFraction float64
	SampleSeed     uint64
}

// StorageConfig describes the S3-compatible raw bucket.
type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	Bucket       string
	Prefix       string
	CreateBucket bool
}

// CatalogConfig describes the SQL catalog service and the objects to provision.
type CatalogConfig struct {
	Host      string
	Port      int
	User      string
	Catalog   string
	Schema    string
	Table     string
	TableSpec string
	Timeout   time.Duration
}

// TransformConfig locates the transformation engine.
type TransformConfig struct {
	Bin        string
	ProjectDir string
}

// RetryConfig is the task-level retry policy.
type RetryConfig struct {
	Retries int
	Delay   time.Duration
	// FailFast skips retries for errors classified as permanent.
	FailFast bool
}

type LogConfig struct {
	Level  string
	Format string
}

type TemporalConfig struct {
	Address   string
	Namespace string
	TaskQueue string
}

// SetDefaults registers the documented default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyYear, 2023)
	v.SetDefault(KeyMonth, 1)
	v.SetDefault(KeyCategory, "yellow")
	v.SetDefault(KeySampleFraction, 0.05)
	v.SetDefault(KeySampleSeed, 42)
	v.SetDefault(KeySourceBaseURL, "https://d37ci6vzurychx.cloudfront.net/trip-data")
	v.SetDefault(KeyFetchTimeout, 300)
	v.SetDefault(KeyFetchRateLimit, 1.0)
	v.SetDefault(KeyStagingDir, os.TempDir())

	v.SetDefault(KeyStorageEndpoint, "http://minio:9000")
	v.SetDefault(KeyAccessKey, "minioadmin")
	v.SetDefault(KeySecretKey, "minioadmin123")
	v.SetDefault(KeyRegion, "us-east-1")
	v.SetDefault(KeyBucket, "raw")
	v.SetDefault(KeyPrefix, "nyc_taxi")
	v.SetDefault(KeyCreateBucket, true)

	v.SetDefault(KeyCatalogHost, "trino-coordinator")
	v.SetDefault(KeyCatalogPort, 8080)
	v.SetDefault(KeyCatalogUser, "admin")
	v.SetDefault(KeyCatalogName, "hive")
	v.SetDefault(KeyCatalogSchema, "raw")
	v.SetDefault(KeyCatalogTable, "nyc_taxi_trips")
	v.SetDefault(KeyCatalogTableSpec, "")
	v.SetDefault(KeyCatalogTimeout, 60)

	v.SetDefault(KeyDBTBin, "dbt")
	v.SetDefault(KeyDBTProjectDir, "/opt/airflow/dbt")

	v.SetDefault(KeyRetries, 2)
	v.SetDefault(KeyRetryDelay, 120)
	v.SetDefault(KeyRetryFailFast, false)
	v.SetDefault(KeyMaxParallel, 1)

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetDefault(KeyTemporalAddress, "127.0.0.1:7233")
	v.SetDefault(KeyTemporalNamespace, "default")
	v.SetDefault(KeyTemporalTaskQueue, "lakehouse")
}

// NewViper returns a viper instance bound to the process environment with defaults set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load builds a Config from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	ints := &intReader{v: v}
	cfg := &Config{
		Partition: partition.Key{
			Category: strings.TrimSpace(v.GetString(KeyCategory)),
			Year:     ints.get(KeyYear),
			Month:    ints.get(KeyMonth),
		},
		Source: SourceConfig{
			BaseURL:        strings.TrimRight(v.GetString(KeySourceBaseURL), "/"),
			Timeout:        seconds(ints.get(KeyFetchTimeout)),
			RateLimit:      v.GetFloat64(KeyFetchRateLimit),
			StagingDir:     v.GetString(KeyStagingDir),
			SampleFraction: v.GetFloat64(KeySampleFraction),
			SampleSeed:     v.GetUint64(KeySampleSeed),
		},
		Storage: StorageConfig{
			Endpoint:     v.GetString(KeyStorageEndpoint),
			AccessKey:    v.GetString(KeyAccessKey),
			SecretKey:    v.GetString(KeySecretKey),
			Region:       v.GetString(KeyRegion),
			Bucket:       v.GetString(KeyBucket),
			Prefix:       strings.Trim(v.GetString(KeyPrefix), "/"),
			CreateBucket: v.GetBool(KeyCreateBucket),
		},
		Catalog: CatalogConfig{
			Host:      v.GetString(KeyCatalogHost),
			Port:      ints.get(KeyCatalogPort),
			User:      v.GetString(KeyCatalogUser),
			Catalog:   v.GetString(KeyCatalogName),
			Schema:    v.GetString(KeyCatalogSchema),
			Table:     v.GetString(KeyCatalogTable),
			TableSpec: v.GetString(KeyCatalogTableSpec),
			Timeout:   seconds(ints.get(KeyCatalogTimeout)),
		},
		Transform: TransformConfig{
			Bin:        v.GetString(KeyDBTBin),
			ProjectDir: v.GetString(KeyDBTProjectDir),
		},
		Retry: RetryConfig{
			Retries:  ints.get(KeyRetries),
			Delay:    seconds(ints.get(KeyRetryDelay)),
			FailFast: v.GetBool(KeyRetryFailFast),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		Temporal: TemporalConfig{
			Address:   v.GetString(KeyTemporalAddress),
			Namespace: v.GetString(KeyTemporalNamespace),
			TaskQueue: v.GetString(KeyTemporalTaskQueue),
		},
		MaxParallel: ints.get(KeyMaxParallel),
	}

	if ints.err != nil {
		return nil, ints.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// intReader parses integer options in base 10 so zero-padded values such as
// NYC_TAXI_MONTH=08 keep their decimal meaning. The first bad value is kept in err.
type intReader struct {
	v   *viper.Viper
	err error
}

func (r *intReader) get(key string) int {
	raw := strings.TrimSpace(r.v.GetString(key))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 0)
	if err != nil {
		if r.err == nil {
			r.err = newError(key, fmt.Sprintf("must be an integer, got %q", raw))
		}
		return 0
	}
	return int(n)
}

// Validate performs the pre-flight checks. It returns a *Error on the first violation.
func (c *Config) Validate() error {
	if err := c.Partition.Validate(); err != nil {
		var fe *partition.FieldError
		if errors.As(err, &fe) {
			return newError(partitionKeys[fe.Field], fe.Message)
		}
		return newError(KeyCategory, err.Error())
	}
	if c.Source.SampleFraction <= 0 || c.Source.SampleFraction > 1 {
		return newError(KeySampleFraction, fmt.Sprintf("must be in (0, 1], got %v", c.Source.SampleFraction))
	}
	if _, err := url.ParseRequestURI(c.Source.BaseURL); err != nil {
		return newError(KeySourceBaseURL, err.Error())
	}
	if c.Source.Timeout <= 0 {
		return newError(KeyFetchTimeout, "must be > 0")
	}
	if c.Source.RateLimit <= 0 {
		return newError(KeyFetchRateLimit, "must be > 0")
	}
	if c.Storage.Endpoint == "" {
		return newError(KeyStorageEndpoint, "is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return newError(KeyAccessKey, "access key and secret key are required")
	}
	if c.Storage.Bucket == "" {
		return newError(KeyBucket, "is required")
	}
	if c.Catalog.Host == "" {
		return newError(KeyCatalogHost, "is required")
	}
	if c.Catalog.Port < 1 || c.Catalog.Port > 65535 {
		return newError(KeyCatalogPort, fmt.Sprintf("must be in 1-65535, got %d", c.Catalog.Port))
	}
	if c.Catalog.Catalog == "" || c.Catalog.Schema == "" || c.Catalog.Table == "" {
		return newError(KeyCatalogTable, "catalog, schema and table names are required")
	}
	if c.Catalog.Timeout <= 0 {
		return newError(KeyCatalogTimeout, "must be > 0")
	}
	if c.Retry.Retries < 0 {
		return newError(KeyRetries, "must be >= 0")
	}
	if c.Retry.Delay < 0 {
		return newError(KeyRetryDelay, "must be >= 0")
	}
	if c.MaxParallel < 1 {
		return newError(KeyMaxParallel, "must be >= 1")
	}
	return nil
}

var partitionKeys = map[string]string{
	partition.FieldCategory: KeyCategory,
	partition.FieldYear:     KeyYear,
	partition.FieldMonth:    KeyMonth,
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
