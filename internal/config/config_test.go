package config

import (
	"os"
	"path/filepath"
	"testing"

	"pixpack-go/internal/engine"
	"pixpack-go/internal/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "optimized", cfg.Engine.Variant)
	assert.Equal(t, "raw", cfg.Engine.PayloadCodec)
	assert.Equal(t, "bmp", cfg.Engine.OutputFormat)
	assert.Equal(t, "*.lz77", cfg.Archive.ItemPattern)
	assert.Equal(t, "pixpack", cfg.Workspace.Prefix)
	assert.GreaterOrEqual(t, cfg.Engine.Workers, job.MinWorkers)
	assert.LessOrEqual(t, cfg.Engine.Workers, job.MaxWorkers)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  variant: ref
  workers: 3
  payload_codec: LZ4
  output_format: png
  image_extensions: [PNG, .jpg]
workspace:
  prefix: scratch
server:
  port: 9000
logging:
  level: DEBUG
  file_path: ""
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "reference", cfg.Engine.Variant)
	assert.Equal(t, job.VariantReference, cfg.EngineVariant())
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, []string{".png", ".jpg"}, cfg.Engine.ImageExtensions)
	assert.Equal(t, "scratch", cfg.Workspace.Prefix)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	opts := cfg.EngineOptions()
	assert.Equal(t, engine.PayloadLZ4, opts.PayloadCodec)
	assert.Equal(t, engine.FormatPNG, opts.OutputFormat)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("PIXPACK_ENGINE_WORKERS", "5")
	t.Setenv("PIXPACK_SERVER_PORT", "7070")

	cfg, err := LoadConfig(writeConfig(t, "engine:\n  workers: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.Workers)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"variant":      func(c *Config) { c.Engine.Variant = "turbo" },
		"workers high": func(c *Config) { c.Engine.Workers = 65 },
		"workers low":  func(c *Config) { c.Engine.Workers = -1 },
		"codec":        func(c *Config) { c.Engine.PayloadCodec = "zstd" },
		"format":       func(c *Config) { c.Engine.OutputFormat = "webp" },
		"prefix":       func(c *Config) { c.Workspace.Prefix = "a/b" },
		"pattern":      func(c *Config) { c.Archive.ItemPattern = "[" },
		"pattern ext":  func(c *Config) { c.Archive.ItemPattern = "*.bin" },
		"port":         func(c *Config) { c.Server.Port = 70000 },
		"log level":    func(c *Config) { c.Logging.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsItemPatterns(t *testing.T) {
	for _, pattern := range []string{"*.lz77", "*.LZ77", "**/*.lz77", "*"} {
		cfg := DefaultConfig()
		cfg.Archive.ItemPattern = pattern
		assert.NoError(t, cfg.Validate(), pattern)
	}
}

func TestNewRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.Variant = "reference"
	cfg.Engine.Workers = 6

	req := cfg.NewRequest(job.ModeCompress, "/in", "/out.zip")
	assert.Equal(t, job.Request{
		Mode:            job.ModeCompress,
		SourcePath:      "/in",
		DestinationPath: "/out.zip",
		EngineVariant:   job.VariantReference,
		WorkerCount:     6,
	}, req)
}
