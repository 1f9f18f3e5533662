package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"pixpack-go/internal/engine"
	"pixpack-go/internal/job"
	"pixpack-go/internal/logger"
	"pixpack-go/internal/workspace"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Archive   ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// EngineConfig contains the processing engine settings
type EngineConfig struct {
	Variant         string   `mapstructure:"variant" yaml:"variant"`
	Workers         int      `mapstructure:"workers" yaml:"workers"`
	PayloadCodec    string   `mapstructure:"payload_codec" yaml:"payload_codec"`
	OutputFormat    string   `mapstructure:"output_format" yaml:"output_format"`
	ImageExtensions []string `mapstructure:"image_extensions" yaml:"image_extensions"`
}

// WorkspaceConfig controls where scratch directories are created
type WorkspaceConfig struct {
	Root   string `mapstructure:"root" yaml:"root"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// ArchiveConfig contains archive settings
type ArchiveConfig struct {
	ItemPattern string `mapstructure:"item_pattern" yaml:"item_pattern"`
}

// ServerConfig contains the web server settings
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultWorkers is the worker count used when none is configured.
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n > job.MaxWorkers {
		n = job.MaxWorkers
	}
	if n < job.MinWorkers {
		n = job.MinWorkers
	}
	return n
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	logCfg := logger.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			Variant:         job.VariantOptimized.String(),
			Workers:         DefaultWorkers(),
			PayloadCodec:    engine.PayloadRaw.String(),
			OutputFormat:    string(engine.FormatBMP),
			ImageExtensions: append([]string(nil), engine.DefaultImageExtensions...),
		},
		Workspace: WorkspaceConfig{
			Root:   "", // platform temp dir
			Prefix: workspace.DefaultPrefix,
		},
		Archive: ArchiveConfig{
			ItemPattern: engine.ItemPattern,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      logCfg.Level,
			FilePath:   logCfg.FilePath,
			MaxSize:    logCfg.MaxSize,
			MaxBackups: logCfg.MaxBackups,
			MaxAge:     logCfg.MaxAge,
			Compress:   logCfg.Compress,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pixpack")
		v.AddConfigPath("/etc/pixpack")
	}

	// Enable environment variable support
	v.SetEnvPrefix("PIXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers every known key so AutomaticEnv values reach
// Unmarshal even when the key is absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"engine.variant", "engine.workers", "engine.payload_codec", "engine.output_format", "engine.image_extensions",
		"workspace.root", "workspace.prefix",
		"archive.item_pattern",
		"server.port",
		"logging.level", "logging.file_path", "logging.max_size", "logging.max_backups", "logging.max_age", "logging.compress",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate engine settings
	if c.Engine.Variant == "" {
		c.Engine.Variant = job.VariantOptimized.String()
	}
	variant, err := job.ParseVariant(c.Engine.Variant)
	if err != nil {
		return err
	}
	c.Engine.Variant = variant.String()

	if c.Engine.Workers == 0 {
		c.Engine.Workers = DefaultWorkers()
	}
	if c.Engine.Workers < job.MinWorkers || c.Engine.Workers > job.MaxWorkers {
		return fmt.Errorf("invalid engine.workers: %d (valid: %d-%d)", c.Engine.Workers, job.MinWorkers, job.MaxWorkers)
	}

	codec, err := engine.ParsePayloadCodec(c.Engine.PayloadCodec)
	if err != nil {
		return err
	}
	c.Engine.PayloadCodec = codec.String()

	format, err := engine.ParseOutputFormat(c.Engine.OutputFormat)
	if err != nil {
		return err
	}
	c.Engine.OutputFormat = string(format)

	if len(c.Engine.ImageExtensions) == 0 {
		c.Engine.ImageExtensions = append([]string(nil), engine.DefaultImageExtensions...)
	}
	c.Engine.ImageExtensions = normalizeExtensions(c.Engine.ImageExtensions)

	// Validate workspace settings
	if c.Workspace.Prefix == "" {
		c.Workspace.Prefix = workspace.DefaultPrefix
	}
	if strings.ContainsAny(c.Workspace.Prefix, `/\`) {
		return fmt.Errorf("invalid workspace.prefix: %s (must not contain path separators)", c.Workspace.Prefix)
	}
	if c.Workspace.Root != "" {
		c.Workspace.Root = expandPath(c.Workspace.Root)
	}

	// Validate archive settings
	if c.Archive.ItemPattern == "" {
		c.Archive.ItemPattern = engine.ItemPattern
	}
	if !doublestar.ValidatePattern(c.Archive.ItemPattern) {
		return fmt.Errorf("invalid archive.item_pattern: %s", c.Archive.ItemPattern)
	}
	// the engine always names items <stem>.lz77
	if ok, _ := doublestar.Match(strings.ToLower(c.Archive.ItemPattern), "x"+engine.ItemExt); !ok {
		return fmt.Errorf("invalid archive.item_pattern: %s (must match %s items)", c.Archive.ItemPattern, engine.ItemExt)
	}

	// Validate server settings
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	if c.Logging.FilePath != "" {
		c.Logging.FilePath = expandPath(c.Logging.FilePath)
	}

	return nil
}

// EngineVariant returns the parsed engine variant.
func (c *Config) EngineVariant() job.EngineVariant {
	v, err := job.ParseVariant(c.Engine.Variant)
	if err != nil {
		return job.VariantOptimized
	}
	return v
}

// EngineOptions converts the engine section into engine.Options.
func (c *Config) EngineOptions() engine.Options {
	codec, _ := engine.ParsePayloadCodec(c.Engine.PayloadCodec)
	format, _ := engine.ParseOutputFormat(c.Engine.OutputFormat)
	return engine.Options{
		ImageExtensions: c.Engine.ImageExtensions,
		OutputFormat:    format,
		PayloadCodec:    codec,
	}
}

// LoggerConfig converts the logging section into a logger.LoggerConfig.
func (c *Config) LoggerConfig() logger.LoggerConfig {
	return logger.LoggerConfig{
		Level:      c.Logging.Level,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
		Compress:   c.Logging.Compress,
	}
}

// NewRequest builds a job request using the configured variant and worker
// count.
func (c *Config) NewRequest(mode job.Mode, source, destination string) job.Request {
	return job.Request{
		Mode:            mode,
		SourcePath:      source,
		DestinationPath: destination,
		EngineVariant:   c.EngineVariant(),
		WorkerCount:     c.Engine.Workers,
	}
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
