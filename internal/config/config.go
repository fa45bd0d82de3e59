// Package config loads the coordinator configuration with viper.
//
// Precedence: explicit config file, then environment variables with the
// ANNOD_ prefix, then defaults. Defaults describe a single-host development
// setup and must be overridden for production.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full coordinator configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Storage StorageConfig `mapstructure:"storage"`
	Sparv   SparvConfig   `mapstructure:"sparv"`
	Queue   QueueConfig   `mapstructure:"queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// SecretKey protects the internal queue-advancement route.
	SecretKey string `mapstructure:"secret_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RedisConfig configures the shared job cache. An empty addr selects the
// in-process cache instead.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// StorageConfig selects and configures the corpus storage backend.
type StorageConfig struct {
	// Backend is "s3" or "local".
	Backend string `mapstructure:"backend"`

	// Root is the path prefix (S3) or directory (local) holding corpora.
	Root string `mapstructure:"root"`

	// LocalResults marks a local backend as living on the annotation host.
	LocalResults bool `mapstructure:"local_results"`

	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// SparvConfig configures the annotation host and the tool invocation.
type SparvConfig struct {
	Host    string `mapstructure:"host"`
	User    string `mapstructure:"user"`
	SSHKey  string `mapstructure:"ssh_key"`
	Workers int    `mapstructure:"workers"`

	Command         []string `mapstructure:"command"`
	RunArgs         []string `mapstructure:"run_args"`
	InstallArgs     []string `mapstructure:"install_args"`
	Environ         []string `mapstructure:"environ"`
	DefaultExports  []string `mapstructure:"default_exports"`
	DefaultInstalls []string `mapstructure:"default_installs"`

	NohupFile        string `mapstructure:"nohup_file"`
	RunScript        string `mapstructure:"run_script"`
	RemoteCorporaDir string `mapstructure:"remote_corpora_dir"`

	// Importers overrides the source-extension to importer-module mapping
	// used by the corpus config compatibility check.
	Importers map[string]string `mapstructure:"importers"`
}

// QueueConfig configures job persistence and the reconciliation loop.
type QueueConfig struct {
	// Dir holds the job backup files and the queue priorities file.
	Dir string `mapstructure:"dir"`

	// StagingDir is the local scratch area for corpus transfers.
	StagingDir string `mapstructure:"staging_dir"`

	// CheckFrequency is the reconciliation interval.
	CheckFrequency time.Duration `mapstructure:"check_frequency"`

	// ProbeRate caps remote liveness probes per second (0 = unlimited).
	ProbeRate float64 `mapstructure:"probe_rate"`
}

// Load reads the configuration, optionally from an explicit file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ANNOD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("annod")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/annod")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secret_key", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	// Keys without a meaningful default still need to be registered, or env
	// overrides for them are never seen by Unmarshal.
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "annod:")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root", "corpora")
	v.SetDefault("storage.local_results", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.profile", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.force_path_style", false)

	v.SetDefault("sparv.host", "")
	v.SetDefault("sparv.user", "")
	v.SetDefault("sparv.ssh_key", "")
	v.SetDefault("sparv.workers", 1)
	v.SetDefault("sparv.command", []string{"sparv"})
	v.SetDefault("sparv.run_args", []string{"run", "--log-to-file", "info"})
	v.SetDefault("sparv.install_args", []string{"install"})
	v.SetDefault("sparv.default_exports", []string{"xml_export:pretty"})
	v.SetDefault("sparv.default_installs", []string{})
	v.SetDefault("sparv.importers", map[string]string{})
	v.SetDefault("sparv.nohup_file", "annod.out")
	v.SetDefault("sparv.run_script", "run_annotation.sh")
	v.SetDefault("sparv.remote_corpora_dir", "annod-data")

	v.SetDefault("queue.dir", "queue")
	v.SetDefault("queue.staging_dir", "tmp")
	v.SetDefault("queue.check_frequency", 20*time.Second)
	v.SetDefault("queue.probe_rate", 0.0)
}

// Validate rejects configurations the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Root == "" {
			return fmt.Errorf("config: storage.root is required for the local backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config: storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Sparv.Workers < 1 {
		return fmt.Errorf("config: sparv.workers must be at least 1")
	}
	if len(c.Sparv.Command) == 0 {
		return fmt.Errorf("config: sparv.command is required")
	}
	return nil
}
