package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pixpack-go/internal/config"
	"pixpack-go/internal/engine"
	"pixpack-go/internal/job"
	"pixpack-go/internal/logger"
	"pixpack-go/internal/orchestrator"
	"pixpack-go/internal/relay"
	"pixpack-go/internal/web"
	"pixpack-go/internal/workspace"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile   string
	sourceDir string
	destPath  string
	variant   string
	workers   int
	verbose   bool
	quiet     bool
	port      int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pixpack",
	Short: "Pack folders of images into LZ77 archives and back",
	Long: `pixpack compresses every image in a folder into a per-image LZ77 item
and packs the items into a single ZIP archive. Decompressing an archive
restores the images into a folder next to it.

Features:
- Reference and optimized engine variants
- Parallel workers (1-64)
- Optional LZ4 framing of item payloads
- Live progress on the terminal or over WebSocket
- Structured JSON logging with rotation`,
	SilenceUsage: true,
}

// compressCmd packs a folder of images into an archive.
var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress a folder of images into a ZIP archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), job.ModeCompress)
	},
}

// decompressCmd restores the images of an archive.
var decompressCmd = &cobra.Command{
	Use:   "decompress",
	Short: "Decompress an archive into a folder next to it",
	Long: `Decompress extracts the items of the archive given by --source and writes
the restored images into a folder named after the archive, in the same
directory (for example /out/batch1.zip -> /out/batch1).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd.Context(), job.ModeDecompress)
	},
}

// serveCmd starts the HTTP/WebSocket server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server that accepts jobs and streams their progress.

  GET  /api/status   running flag and last result
  POST /api/jobs     submit a job (JSON request)
  GET  /ws           progress, log and complete events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&variant, "variant", "", "engine variant: reference or optimized (default from config)")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of engine workers, 1-64 (default from config)")

	compressCmd.Flags().StringVar(&sourceDir, "source", "", "folder containing the images")
	compressCmd.Flags().StringVar(&destPath, "dest", "", "archive file to write")
	_ = compressCmd.MarkFlagRequired("source")
	_ = compressCmd.MarkFlagRequired("dest")

	decompressCmd.Flags().StringVar(&sourceDir, "source", "", "archive file to decompress")
	_ = decompressCmd.MarkFlagRequired("source")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config)")

	rootCmd.AddCommand(compressCmd)
	rootCmd.AddCommand(decompressCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if variant != "" {
		cfg.Engine.Variant = variant
	}
	if workers != 0 {
		cfg.Engine.Workers = workers
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := cfg.LoggerConfig()
	loggerCfg.Console = verbose

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// newOrchestrator wires the engine, workspace manager and orchestrator.
func newOrchestrator(cfg *config.Config, log *logrus.Logger) *orchestrator.Orchestrator {
	eng := engine.NewLZ77Engine(cfg.EngineOptions(), log)
	return orchestrator.New(
		workspace.NewManager(cfg.Workspace.Root, cfg.Workspace.Prefix, log),
		engine.NewAdapter(eng, log),
		log,
		orchestrator.Options{ItemPattern: cfg.Archive.ItemPattern},
	)
}

// runJob executes one compress or decompress job in the foreground.
func runJob(ctx context.Context, mode job.Mode) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	orch := newOrchestrator(cfg, log)

	req := cfg.NewRequest(mode, sourceDir, "")
	if mode == job.ModeCompress {
		req.DestinationPath = destPath
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	title := "Compressing"
	if mode == job.ModeDecompress {
		title = "Decompressing"
	}
	console := newConsoleObserver(os.Stdout, title, quiet)
	observer := relay.Multi(console, relay.LogObserver{Entry: logger.WithJob(log, "cli", req)})

	result := orch.Execute(ctx, req, observer)
	if stats := orch.LastStats(); stats != nil && !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if len(stats.Errors) > 0 {
			fmt.Println(stats.GetErrorSummary())
		}
	}
	if !result.Success {
		return result.Err
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log, newOrchestrator(cfg, log))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	fmt.Printf("pixpack API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
