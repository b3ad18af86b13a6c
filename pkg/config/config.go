// Package config loads adplugin configuration from adplugin.yaml and
// ADPLUGIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort         = errors.New("invalid server port")
	ErrNoClusterAddress    = errors.New("at least one opensearch address is required")
	ErrInvalidMaxAnomalies = errors.New("overlay max anomalies out of range")
	ErrInvalidCodec        = errors.New("unknown saved objects codec")
	ErrInvalidByteSize     = errors.New("invalid byte size")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidLogFormat    = errors.New("invalid log format")
	ErrInvalidSampleRatio  = errors.New("sample ratio must be within [0, 1]")
	ErrInvalidCache        = errors.New("overlay cache settings must not be negative")
)

// Saved object codecs.
const (
	CodecJSON = "json"
	CodecGob  = "gob"
	CodecLZ4  = "lz4"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

const (
	envPrefix  = "ADPLUGIN"
	configName = "adplugin"

	defaultPort           = 5602
	defaultHost           = "127.0.0.1"
	defaultClusterAddress = "http://localhost:9200"
	defaultMaxBodySize    = "8MiB"
	defaultMaxFileSize    = "16MiB"
	defaultSavedObjectDir = ".adplugin/saved_objects"

	// MaxAnomaliesLimit is the largest result page the AD plugin serves.
	MaxAnomaliesLimit = 10000

	maxPort = 65535
)

// Config holds all adplugin configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	OpenSearch    OpenSearchConfig    `mapstructure:"opensearch"`
	Overlay       OverlayConfig       `mapstructure:"overlay"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	SavedObjects  SavedObjectsConfig  `mapstructure:"saved_objects"`
}

// ServerConfig configures `adplugin serve`.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// MaxBodySize caps expression request bodies, e.g. "8MiB".
	MaxBodySize string `mapstructure:"max_body_size"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MaxBodyBytes parses MaxBodySize.
func (s ServerConfig) MaxBodyBytes() (int64, error) {
	return parseBytes(s.MaxBodySize)
}

// OpenSearchConfig locates the cluster holding anomaly detection results.
type OpenSearchConfig struct {
	Addresses          []string      `mapstructure:"addresses"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`

	// ResultsPath overrides the AD results search route.
	ResultsPath string `mapstructure:"results_path"`
}

// OverlayConfig tunes the anomaly fetch behind the overlay.
type OverlayConfig struct {
	MaxAnomalies int  `mapstructure:"max_anomalies"`
	Historical   bool `mapstructure:"historical"`

	// CacheSize is the result cache capacity in records. Zero, the default,
	// fetches on every run.
	CacheSize int64         `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel converts Level. Validation guarantees it parses.
func (l LoggingConfig) SlogLevel() slog.Level {
	var level slog.Level

	_ = level.UnmarshalText([]byte(l.Level))

	return level
}

// ObservabilityConfig configures OTel export.
type ObservabilityConfig struct {
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	Prometheus   bool    `mapstructure:"prometheus"`
	DebugTrace   bool    `mapstructure:"debug_trace"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// SavedObjectsConfig configures the augment-vis store.
type SavedObjectsConfig struct {
	Directory   string `mapstructure:"directory"`
	Codec       string `mapstructure:"codec"`
	MaxFileSize string `mapstructure:"max_file_size"`
}

// MaxFileBytes parses MaxFileSize.
func (s SavedObjectsConfig) MaxFileBytes() (int64, error) {
	return parseBytes(s.MaxFileSize)
}

// LoadConfig reads configPath, or adplugin.yaml from ".", "./config" and
// "/etc/adplugin" when empty, then applies ADPLUGIN_* overrides
// (ADPLUGIN_OPENSEARCH_ADDRESSES=http://a:9200,http://b:9200).
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/adplugin")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("server.host", defaultHost)
	viperCfg.SetDefault("server.port", defaultPort)
	viperCfg.SetDefault("server.read_timeout", "30s")
	viperCfg.SetDefault("server.write_timeout", "60s")
	viperCfg.SetDefault("server.idle_timeout", "120s")
	viperCfg.SetDefault("server.max_body_size", defaultMaxBodySize)

	viperCfg.SetDefault("opensearch.addresses", []string{defaultClusterAddress})
	viperCfg.SetDefault("opensearch.username", "")
	viperCfg.SetDefault("opensearch.password", "")
	viperCfg.SetDefault("opensearch.insecure_skip_verify", false)
	viperCfg.SetDefault("opensearch.timeout", "30s")
	viperCfg.SetDefault("opensearch.results_path", "")

	viperCfg.SetDefault("overlay.max_anomalies", MaxAnomaliesLimit)
	viperCfg.SetDefault("overlay.historical", false)
	viperCfg.SetDefault("overlay.cache_size", 0)
	viperCfg.SetDefault("overlay.cache_ttl", "30s")

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", LogFormatText)

	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.prometheus", true)
	viperCfg.SetDefault("observability.debug_trace", false)
	viperCfg.SetDefault("observability.sample_ratio", 0.0)

	viperCfg.SetDefault("saved_objects.directory", defaultSavedObjectDir)
	viperCfg.SetDefault("saved_objects.codec", CodecJSON)
	viperCfg.SetDefault("saved_objects.max_file_size", defaultMaxFileSize)
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, config.Server.Port)
	}

	if _, err := config.Server.MaxBodyBytes(); err != nil {
		return fmt.Errorf("server.max_body_size: %w", err)
	}

	if len(config.OpenSearch.Addresses) == 0 || slices.Contains(config.OpenSearch.Addresses, "") {
		return ErrNoClusterAddress
	}

	if config.Overlay.MaxAnomalies <= 0 || config.Overlay.MaxAnomalies > MaxAnomaliesLimit {
		return fmt.Errorf("%w: %d", ErrInvalidMaxAnomalies, config.Overlay.MaxAnomalies)
	}

	if config.Overlay.CacheSize < 0 || config.Overlay.CacheTTL < 0 {
		return ErrInvalidCache
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(config.Logging.Level)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	if config.Logging.Format != LogFormatJSON && config.Logging.Format != LogFormatText {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if config.Observability.SampleRatio < 0 || config.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampleRatio, config.Observability.SampleRatio)
	}

	switch config.SavedObjects.Codec {
	case CodecJSON, CodecGob, CodecLZ4:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCodec, config.SavedObjects.Codec)
	}

	if _, err := config.SavedObjects.MaxFileBytes(); err != nil {
		return fmt.Errorf("saved_objects.max_file_size: %w", err)
	}

	return nil
}

func parseBytes(raw string) (int64, error) {
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidByteSize, raw, err)
	}

	if n == 0 || n > uint64(1<<40) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidByteSize, raw)
	}

	return int64(n), nil
}
