// Package config defines the immutable run configuration of the enrichment
// engine and its loading rules: YAML file first, then ARACHNE_* environment
// variables, then defaults for anything still unset. Validation reports
// every problem at once so a misconfigured run fails fast with the full
// list.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	sdkerrors "github.com/wehubfusion/Arachne/pkg/errors"
)

// Backend selects the dispatch strategy of the engine.
type Backend string

const (
	// BackendPool runs a fixed pool of workers, each handling one chunk at
	// a time with rows processed sequentially.
	BackendPool Backend = "pool"

	// BackendShard assigns chunks round-robin to shards that run their
	// chunk's rows with many concurrent in-flight requests.
	BackendShard Backend = "shard"
)

// StoreKind selects the staging store implementation.
type StoreKind string

const (
	// StoreLocal stages artifacts as compressed files in a run-scoped
	// temporary directory.
	StoreLocal StoreKind = "local"

	// StoreMemory keeps artifacts in memory; suitable for small datasets
	// and tests.
	StoreMemory StoreKind = "memory"

	// StoreAzure stages artifacts as blobs in an Azure Storage container.
	StoreAzure StoreKind = "azure"
)

// Defaults applied by WithDefaults for unset numeric and enum fields.
const (
	DefaultBatchSize         = 20
	DefaultWidth             = 10
	DefaultTimeoutSeconds    = 180
	DefaultRetryAttempts     = 3
	DefaultRetryDelaySeconds = 1
	DefaultShardInFlight     = 8
	DefaultEventBuffer       = 64
)

// Config is the immutable input of one enrichment run. The zero value is
// not runnable; start from Default() or Load() and fill in the
// source/remote settings.
type Config struct {
	// Input is the tabular source path (CSV or XLSX). Consumed by the CLI
	// layer to build a source; the engine itself receives a Source.
	Input string `yaml:"input"`

	// Sheet selects the worksheet of an XLSX input. Empty means the first
	// sheet.
	Sheet string `yaml:"sheet"`

	// FilterField names the column that must be non-blank for a row to
	// qualify. Empty disables filtering.
	FilterField string `yaml:"filter_field"`

	// Encoding is the character encoding of a CSV input: "utf-8" (default),
	// "gb18030", or "latin-1".
	Encoding string `yaml:"encoding"`

	// Output is the destination path of the merged table (CSV or XLSX).
	Output string `yaml:"output"`

	// SelectedFields are the input columns retained in the output and
	// substituted into the content template.
	SelectedFields []string `yaml:"selected_fields"`

	// OutputFields are the field names the remote service is asked to
	// produce; they become output columns.
	OutputFields []string `yaml:"output_fields"`

	// ContentTemplate is the per-row content with {field} placeholders.
	ContentTemplate string `yaml:"content_template"`

	// RequestTemplate is the prompt scaffold with one {{content}}
	// placeholder.
	RequestTemplate string `yaml:"request_template"`

	// Endpoint is the chat-completions URL of the remote service.
	Endpoint string `yaml:"endpoint"`

	// APIKey is the bearer token for the remote service.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier sent with every request.
	Model string `yaml:"model"`

	// TimeoutSeconds bounds each remote request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RequestsPerSecond throttles remote calls across all workers.
	// Zero disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// BreakerThreshold opens the circuit after this many consecutive
	// remote failures. Zero disables the breaker.
	BreakerThreshold int64 `yaml:"breaker_threshold"`

	// BatchSize is the number of rows per chunk.
	BatchSize int `yaml:"batch_size"`

	// Width is the maximum number of chunks in flight simultaneously.
	Width int `yaml:"width"`

	// RetryAttempts is the total number of attempts per remote call.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelaySeconds is the fixed wait between attempts.
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`

	// Backend selects the dispatch strategy: "pool" or "shard".
	Backend Backend `yaml:"backend"`

	// ShardInFlight bounds concurrent in-flight rows per shard when the
	// shard backend is selected.
	ShardInFlight int `yaml:"shard_in_flight"`

	// StagingStore selects where chunk artifacts are staged.
	StagingStore StoreKind `yaml:"staging_store"`

	// StagingDir overrides the local store's directory. Empty means a
	// fresh run-scoped temporary directory.
	StagingDir string `yaml:"staging_dir"`

	// AzureConnectionString configures the Azure staging store.
	AzureConnectionString string `yaml:"azure_connection_string"`

	// AzureContainer is the container used by the Azure staging store.
	AzureContainer string `yaml:"azure_container"`

	// Debug enables DebugPrompt/DebugResponse events.
	Debug bool `yaml:"debug"`

	// OTLPEndpoint enables tracing when set (host:port of an OTLP HTTP
	// collector).
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// NATSURL enables event forwarding when set.
	NATSURL string `yaml:"nats_url"`

	// NATSSubject overrides the subject events are forwarded to. Empty
	// means a run-scoped subject.
	NATSSubject string `yaml:"nats_subject"`

	// SentryDSN enables crash reporting in the CLI when set.
	SentryDSN string `yaml:"sentry_dsn"`
}

// Default returns a Config with the house defaults and no source, remote,
// or template settings.
func Default() Config {
	return Config{
		Encoding:          "utf-8",
		TimeoutSeconds:    DefaultTimeoutSeconds,
		BatchSize:         DefaultBatchSize,
		Width:             DefaultWidth,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelaySeconds: DefaultRetryDelaySeconds,
		Backend:           BackendPool,
		ShardInFlight:     DefaultShardInFlight,
		StagingStore:      StoreLocal,
	}
}

// Load builds a Config from an optional YAML file and the environment.
// Precedence: environment variables > file values > defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, sdkerrors.NewConfigurationError(fmt.Sprintf("failed to read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, sdkerrors.NewConfigurationError(fmt.Sprintf("failed to parse config file %s", path), err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays ARACHNE_* environment variables onto the config.
func (c *Config) applyEnv() {
	c.Input = getEnv("ARACHNE_INPUT", c.Input)
	c.Sheet = getEnv("ARACHNE_SHEET", c.Sheet)
	c.FilterField = getEnv("ARACHNE_FILTER_FIELD", c.FilterField)
	c.Encoding = getEnv("ARACHNE_ENCODING", c.Encoding)
	c.Output = getEnv("ARACHNE_OUTPUT", c.Output)
	c.Endpoint = getEnv("ARACHNE_ENDPOINT", c.Endpoint)
	c.APIKey = getEnv("ARACHNE_API_KEY", c.APIKey)
	c.Model = getEnv("ARACHNE_MODEL", c.Model)
	c.StagingDir = getEnv("ARACHNE_STAGING_DIR", c.StagingDir)
	c.AzureConnectionString = getEnv("ARACHNE_AZURE_CONNECTION_STRING", c.AzureConnectionString)
	c.AzureContainer = getEnv("ARACHNE_AZURE_CONTAINER", c.AzureContainer)
	c.OTLPEndpoint = getEnv("ARACHNE_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.NATSURL = getEnv("ARACHNE_NATS_URL", c.NATSURL)
	c.NATSSubject = getEnv("ARACHNE_NATS_SUBJECT", c.NATSSubject)
	c.SentryDSN = getEnv("ARACHNE_SENTRY_DSN", c.SentryDSN)

	c.BatchSize = getEnvInt("ARACHNE_BATCH_SIZE", c.BatchSize)
	c.Width = getEnvInt("ARACHNE_WIDTH", c.Width)
	c.TimeoutSeconds = getEnvInt("ARACHNE_TIMEOUT_SECONDS", c.TimeoutSeconds)
	c.RetryAttempts = getEnvInt("ARACHNE_RETRY_ATTEMPTS", c.RetryAttempts)
	c.RetryDelaySeconds = getEnvInt("ARACHNE_RETRY_DELAY_SECONDS", c.RetryDelaySeconds)
	c.ShardInFlight = getEnvInt("ARACHNE_SHARD_IN_FLIGHT", c.ShardInFlight)

	if v := getEnv("ARACHNE_BACKEND", ""); v != "" {
		c.Backend = Backend(strings.ToLower(v))
	}
	if v := getEnv("ARACHNE_STAGING_STORE", ""); v != "" {
		c.StagingStore = StoreKind(strings.ToLower(v))
	}
	if v := getEnv("ARACHNE_DEBUG", ""); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := getEnv("ARACHNE_REQUESTS_PER_SECOND", ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RequestsPerSecond = f
		}
	}
}

// WithDefaults returns a copy with defaults substituted for unset numeric
// and enum fields. String settings are left alone; Validate reports them.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Width <= 0 {
		c.Width = DefaultWidth
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelaySeconds < 0 {
		c.RetryDelaySeconds = DefaultRetryDelaySeconds
	}
	if c.ShardInFlight <= 0 {
		c.ShardInFlight = DefaultShardInFlight
	}
	if c.Backend == "" {
		c.Backend = BackendPool
	}
	if c.StagingStore == "" {
		c.StagingStore = StoreLocal
	}
	if c.Encoding == "" {
		c.Encoding = "utf-8"
	}
	return c
}

// Validate checks everything the engine needs and returns one
// CONFIGURATION error listing every problem, or nil.
func (c Config) Validate() error {
	var problems []error
	add := func(msg string) { problems = append(problems, errors.New(msg)) }

	if c.Output == "" {
		add("output path is required")
	}
	if len(c.SelectedFields) == 0 {
		add("at least one selected input field is required")
	}
	if len(c.OutputFields) == 0 {
		add("at least one output field is required")
	}
	if c.ContentTemplate == "" {
		add("content template is required")
	}
	if c.RequestTemplate == "" {
		add("request template is required")
	}
	if c.Endpoint == "" {
		add("endpoint is required")
	}
	if c.APIKey == "" {
		add("api key is required")
	}
	if c.Model == "" {
		add("model is required")
	}
	if c.BatchSize <= 0 {
		add("batch size must be positive")
	}
	if c.Width <= 0 {
		add("width must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		add("timeout must be positive")
	}
	if c.Backend != BackendPool && c.Backend != BackendShard {
		add(fmt.Sprintf("unknown backend %q", c.Backend))
	}
	switch c.StagingStore {
	case StoreLocal, StoreMemory:
	case StoreAzure:
		if c.AzureConnectionString == "" {
			add("azure connection string is required for the azure staging store")
		}
		if c.AzureContainer == "" {
			add("azure container is required for the azure staging store")
		}
	default:
		add(fmt.Sprintf("unknown staging store %q", c.StagingStore))
	}

	if len(problems) == 0 {
		return nil
	}
	return sdkerrors.NewConfigurationError("invalid configuration", errors.Join(problems...))
}

// ValidateSource checks the settings the CLI needs to open the input.
func (c Config) ValidateSource() error {
	var problems []error
	if c.Input == "" {
		problems = append(problems, errors.New("input path is required"))
	} else if _, err := os.Stat(c.Input); err != nil {
		problems = append(problems, fmt.Errorf("input path is not readable: %w", err))
	}
	if len(problems) == 0 {
		return nil
	}
	return sdkerrors.NewConfigurationError("invalid source configuration", errors.Join(problems...))
}

// RequestTimeout returns the per-request timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the inter-attempt delay as a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
