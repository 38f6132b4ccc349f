package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandboxhq/sandboxd/pkg/config"
	"github.com/sandboxhq/sandboxd/pkg/engine"
	"github.com/sandboxhq/sandboxd/pkg/logging"
	"github.com/sandboxhq/sandboxd/pkg/metrics"
	"github.com/sandboxhq/sandboxd/pkg/rules"
	"github.com/sandboxhq/sandboxd/pkg/spec"
)

type serveFlags struct {
	configPath string
	oas        string
	scenarios  string
	host       string
	port       int
	seed       string
	logLevel   string
	logFormat  string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mock server",
	Long: `Load an OpenAPI document and an optional scenarios file, then serve
mock traffic until SIGINT/SIGTERM. Flags override the config file,
which in turn is overridden by SANDBOXD_* environment variables.`,
	Example: `  # Serve a spec with scenarios
  sandboxd serve --oas petstore.yaml --scenarios scenarios.yaml

  # Everything from a config file
  sandboxd serve --config sandboxd.yaml

  # Deterministic generation for replayable traffic
  sandboxd serve --oas petstore.yaml --seed ci-run-7`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML or JSON)")
	serveCmd.Flags().StringVar(&f.oas, "oas", "", "Path to the OpenAPI document")
	serveCmd.Flags().StringVar(&f.scenarios, "scenarios", "", "Path to the scenarios file")
	serveCmd.Flags().StringVar(&f.host, "host", "", "Bind address")
	serveCmd.Flags().IntVarP(&f.port, "port", "p", 0, "HTTP server port")
	serveCmd.Flags().StringVar(&f.seed, "seed", "", "Determinism seed for templates and generation")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(&serveFlagVals)
	if err != nil {
		return err
	}

	lg := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	doc, err := spec.Load(cfg.OAS)
	if err != nil {
		return err
	}
	var ruleSet []*rules.Rule
	if cfg.Scenarios != "" {
		if ruleSet, err = rules.Load(cfg.Scenarios); err != nil {
			return err
		}
	}

	store, err := cfg.Store.BuildStore(lg.With("component", "store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Error("store close", "error", err)
		}
	}()

	rec := metrics.NewRecorder(nil)
	pipeline, err := engine.New(doc, ruleSet, store, engine.Options{
		Seed:             cfg.Seed,
		ValidateRequests: cfg.Validation.Requests,
		ResponseMode:     cfg.Validation.Responses,
		Logger:           lg.With("component", "pipeline"),
		Recorder:         rec,
	})
	if err != nil {
		return err
	}

	srv := engine.NewServer(pipeline, engine.ServerOptions{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Chaos:           cfg.Chaos,
		Recorder:        rec,
		Logger:          lg.With("component", "server"),
	})

	lg.Info("starting",
		"oas", cfg.OAS, "scenarios", cfg.Scenarios,
		"operations", len(doc.Operations), "rules", len(ruleSet),
		"store", cfg.Store.Type)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// loadConfig layers file config under command-line flags.
func loadConfig(f *serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.oas != "" {
		cfg.OAS = f.oas
	}
	if f.scenarios != "" {
		cfg.Scenarios = f.scenarios
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.seed != "" {
		cfg.Seed = f.seed
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
