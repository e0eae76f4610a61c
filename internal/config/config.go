package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SNAPCHECK_SERVICE_URL.
const EnvPrefix = "SNAPCHECK"

// Config holds all application configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Collection CollectionConfig `mapstructure:"collection"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	Cleanup    CleanupConfig    `mapstructure:"cleanup"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Report     ReportConfig     `mapstructure:"report"`
	Provision  ProvisionConfig  `mapstructure:"provision"`
	Log        LogConfig        `mapstructure:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServiceConfig struct {
	URL string `mapstructure:"url"`
	// SelfURL is how the service reaches its own API when it dereferences a
	// snapshot location. Defaults to URL.
	SelfURL          string        `mapstructure:"self_url"`
	APIKey           string        `mapstructure:"api_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	GRPCHost         string        `mapstructure:"grpc_host"`
	GRPCPort         int           `mapstructure:"grpc_port"`
	// TempPath is the base directory for a provisioned service's storage.
	TempPath string `mapstructure:"temp_path"`
}

type ProbeConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

type CollectionConfig struct {
	// Name of the source collection. Empty generates a fresh one per run.
	Name       string `mapstructure:"name"`
	VectorSize int    `mapstructure:"vector_size"`
	Distance   string `mapstructure:"distance"`
	// PointsFile is a JSON array of points. Empty uses the built-in sample.
	PointsFile string `mapstructure:"points_file"`
}

type RecoveryConfig struct {
	Priority   string `mapstructure:"priority"`
	Concurrent bool   `mapstructure:"concurrent"`
}

type VerifyConfig struct {
	// Strict additionally requires the restored point count to match.
	Strict bool `mapstructure:"strict"`
}

type CleanupConfig struct {
	Collections bool `mapstructure:"collections"`
	Snapshots   bool `mapstructure:"snapshots"`
}

type ArchiveConfig struct {
	// Dir keeps downloaded snapshots on disk. Empty disables archiving.
	Dir string `mapstructure:"dir"`
}

type ReportConfig struct {
	// Path receives the run report; .yaml/.yml selects YAML, otherwise JSON.
	Path string `mapstructure:"path"`
}

type ProvisionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Executable  string        `mapstructure:"executable"`
	Args        []string      `mapstructure:"args"`
	HTTPPort    int           `mapstructure:"http_port"`
	GRPCPort    int           `mapstructure:"grpc_port"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	LogFile     string        `mapstructure:"log_file"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type WorkerConfig struct {
	HealthAddr string `mapstructure:"health_addr"`
}

// SetDefaults registers default values on v. Every key gets one so that
// AutomaticEnv can override it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	for _, key := range []string{
		"service.self_url", "service.api_key", "service.temp_path",
		"collection.name", "collection.points_file", "recovery.priority",
		"archive.dir", "report.path", "provision.executable", "provision.log_file",
		"tracing.endpoint",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("provision.enabled", false)
	v.SetDefault("provision.args", []string{})
	v.SetDefault("service.url", "http://localhost:6333")
	v.SetDefault("service.request_timeout", 30*time.Second)
	v.SetDefault("service.max_response_bytes", 16<<20)
	v.SetDefault("service.grpc_host", "")
	v.SetDefault("service.grpc_port", 0)
	v.SetDefault("probe.max_attempts", 30)
	v.SetDefault("probe.interval", time.Second)
	v.SetDefault("collection.vector_size", 4)
	v.SetDefault("collection.distance", "Dot")
	v.SetDefault("recovery.concurrent", true)
	v.SetDefault("verify.strict", false)
	v.SetDefault("cleanup.collections", false)
	v.SetDefault("cleanup.snapshots", false)
	v.SetDefault("provision.http_port", 6333)
	v.SetDefault("provision.grpc_port", 6334)
	v.SetDefault("provision.stop_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "snapcheck")
	v.SetDefault("worker.health_addr", ":8081")
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if err := checkBaseURL("service.url", c.Service.URL); err != nil {
		errs = append(errs, err)
	}
	if c.Service.SelfURL != "" {
		if err := checkBaseURL("service.self_url", c.Service.SelfURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Probe.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("probe.max_attempts must be at least 1, got %d", c.Probe.MaxAttempts))
	}
	if c.Probe.Interval < 0 {
		errs = append(errs, fmt.Errorf("probe.interval must not be negative"))
	}
	if c.Collection.VectorSize <= 0 {
		errs = append(errs, fmt.Errorf("collection.vector_size must be positive, got %d", c.Collection.VectorSize))
	}
	if c.Service.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("service.request_timeout must not be negative"))
	}
	if c.Provision.Enabled && c.Provision.Executable == "" {
		errs = append(errs, fmt.Errorf("provision.executable is required when provisioning is enabled"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %.2f is outside [0, 1]", c.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}

// Warnings reports configuration that works but is probably unintended.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.Collection.Name != "" {
		warnings = append(warnings, fmt.Sprintf("collection.name %q is fixed; a second run against the same service will fail because the collection already exists", c.Collection.Name))
	}
	if c.Service.RequestTimeout == 0 {
		warnings = append(warnings, "service.request_timeout is 0; HTTP calls will not time out")
	}
	if c.Verify.Strict && c.Service.GRPCPort == 0 {
		warnings = append(warnings, "verify.strict counts points over REST; set service.grpc_port to count over gRPC")
	}
	if !c.Provision.Enabled && c.Service.TempPath != "" {
		warnings = append(warnings, "service.temp_path only applies to a provisioned service; set provision.enabled")
	}
	return warnings
}

// LocationBase is the base URL the service uses to fetch its own snapshots.
func (c *Config) LocationBase() string {
	if c.Service.SelfURL != "" {
		return c.Service.SelfURL
	}
	return c.Service.URL
}

// Load reads configuration from an optional file and the environment.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, warning := range cfg.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func checkBaseURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must use http or https", key, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", key, raw)
	}
	return nil
}
