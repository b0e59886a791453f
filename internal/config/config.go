package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ModeBatch resolves one spreadsheet selection and exits.
	ModeBatch = "batch"
	// ModeServe keeps the HTTP server running until a shutdown signal.
	ModeServe = "serve"
)

// Output formats understood by the report writers.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
	FormatPDF  = "pdf"
)

// Config holds the configuration settings for the distance service.
//
// Fields:
// - Env: The current environment (e.g., local, development, production).
// - Mode: batch or serve.
// - Port: The port for the monitoring and HTTP server, 0 disables it in batch mode.
// - Provider: Routing provider selection and credentials.
// - Workers: The number of concurrent workers, 0 derives it from the CPU count.
// - Database: Configuration settings for the optional PostgreSQL report store.
type Config struct {
	Env         string         // Env is the current environment: local, development, production.
	Mode        string         // Mode selects batch or serve.
	Port        int            // Port is the monitoring server port.
	Provider    ProviderConfig // Provider configures the routing provider.
	Workers     int            // Workers is the size of the worker pool.
	CacheSize   int            // CacheSize is the capacity of the result cache.
	MinInterval time.Duration  // MinInterval is the minimum spacing between provider calls.
	MaxAttempts int            // MaxAttempts is the number of provider calls per lookup.
	RetryDelay  time.Duration  // RetryDelay is the pause between two attempts.
	Timeout     time.Duration  // Timeout bounds a whole batch run, 0 means no deadline.
	Input       InputConfig    // Input selects the origins of a batch run.
	Output      OutputConfig   // Output configures report files.
	Database    PostgresConfig // Database holds the postgres database configuration.
}

// ProviderConfig selects the routing provider.
type ProviderConfig struct {
	Type     string // Type is google or osm.
	APIKey   string // APIKey is required for google.
	Language string // Language of the provider response.
	Region   string // Region biases place name resolution.
}

// InputConfig describes where the origins of a batch run come from.
type InputConfig struct {
	File        string
	Sheet       string
	GroupColumn string
	PlaceColumn string
	Group       string
	Destination string
}

// OutputConfig describes the report files of a batch run.
type OutputConfig struct {
	Dir     string
	Formats []string
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// Enabled reports whether a database was configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// MustLoad reads the configuration from the environment, an optional .env file and an
// optional YAML file named by ODOMETER_CONFIG. It panics on invalid values.
func MustLoad() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ODOMETER")
	v.AutomaticEnv()
	setDefaults(v)

	for _, key := range []string{"DB_HOST", "DB_PORT", "DB_USERNAME", "DB_PASSWORD", "DB_NAME"} {
		_ = v.BindEnv(strings.ToLower(key), key)
	}

	if path := os.Getenv("ODOMETER_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			panic("failed to read configuration file")
		}
	}

	mode := v.GetString("mode")
	if mode != ModeBatch && mode != ModeServe {
		panic("failed to parse mode from configuration, must be batch or serve")
	}

	healthPort, err := strconv.Atoi(v.GetString("health_port"))
	if err != nil {
		panic("failed to parse port for monitoring server from configuration")
	}

	workers, err := strconv.Atoi(v.GetString("workers"))
	if err != nil {
		panic("failed to parse workers from configuration, must be an integer types")
	}

	cacheSize, err := strconv.Atoi(v.GetString("cache_size"))
	if err != nil || cacheSize < 1 {
		panic("failed to parse cache size from configuration, must be a positive integer")
	}

	maxAttempts, err := strconv.Atoi(v.GetString("max_retries"))
	if err != nil {
		panic("failed to parse max retries from configuration, must be an integer types")
	}

	minInterval, err := time.ParseDuration(v.GetString("min_interval"))
	if err != nil {
		panic("failed to parse min interval from configuration")
	}

	retryDelay, err := time.ParseDuration(v.GetString("retry_delay"))
	if err != nil {
		panic("failed to parse retry delay from configuration")
	}

	timeout, err := time.ParseDuration(v.GetString("timeout"))
	if err != nil {
		panic("failed to parse timeout from configuration")
	}

	destination := v.GetString("destination")
	if destination == "" {
		destination = v.GetString("group")
	}

	return &Config{
		Env:  v.GetString("env"),
		Mode: mode,
		Port: healthPort,
		Provider: ProviderConfig{
			Type:     v.GetString("provider_type"),
			APIKey:   v.GetString("provider_key"),
			Language: v.GetString("provider_language"),
			Region:   v.GetString("provider_region"),
		},
		Workers:     workers,
		CacheSize:   cacheSize,
		MinInterval: minInterval,
		MaxAttempts: maxAttempts,
		RetryDelay:  retryDelay,
		Timeout:     timeout,
		Input: InputConfig{
			File:        v.GetString("input_file"),
			Sheet:       v.GetString("sheet"),
			GroupColumn: v.GetString("group_column"),
			PlaceColumn: v.GetString("place_column"),
			Group:       v.GetString("group"),
			Destination: destination,
		},
		Output: OutputConfig{
			Dir:     v.GetString("output_dir"),
			Formats: mustParseFormats(v.GetString("output_formats")),
		},
		Database: PostgresConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_username"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("mode", ModeBatch)
	v.SetDefault("health_port", "8080")
	v.SetDefault("provider_type", "google")
	v.SetDefault("provider_language", "pt-BR")
	v.SetDefault("provider_region", "br")
	v.SetDefault("workers", "0")
	v.SetDefault("cache_size", "1000")
	v.SetDefault("min_interval", "100ms")
	v.SetDefault("max_retries", "2")
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("timeout", "0")
	v.SetDefault("group_column", "Região Geográfica Intermediária")
	v.SetDefault("place_column", "MUNICIPIO COM ACENTO")
	v.SetDefault("output_dir", ".")
	v.SetDefault("output_formats", FormatXLSX)
	v.SetDefault("db_port", "5432")
}

func mustParseFormats(raw string) []string {
	var formats []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case "":
			continue
		case FormatXLSX, FormatCSV, FormatPDF:
			formats = append(formats, f)
		default:
			panic("failed to parse output formats from configuration, supported: xlsx, csv, pdf")
		}
	}
	return formats
}
