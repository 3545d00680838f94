// ClaimGuard screens healthcare claim batches for integrity and fraud risk.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/brainsait/claimguard/internal/catalog"
	"github.com/brainsait/claimguard/internal/config"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
	"github.com/brainsait/claimguard/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "claimguard",
		Short:        "Claims integrity and fraud-risk engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to claimguard.yaml (default: search ., ./config, /etc/claimguard)")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(analyzeCmd(&configPath))
	root.AddCommand(validateCmd(&configPath))
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "claimguard %s (commit %s, built %s, engine %s)\n",
				Version, Commit, BuildDate, engine.Version)
		},
	}
}

// loadConfig reads configuration and installs the default logger and the
// trace propagator.
func loadConfig(path string, logOut io.Writer) (*domain.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging, logOut))

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return cfg, nil
}

func newLogger(cfg domain.LoggingConfig, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// buildEngine loads the catalog and its extension rules and assembles the
// screening engine.
func buildEngine(cfg *domain.Config) (*engine.Engine, *rules.Engine, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, err
	}

	re, err := rules.NewEngine(cfg.Engine.Workers)
	if err != nil {
		return nil, nil, err
	}
	if err := re.LoadRules(cat.Rules()); err != nil {
		re.Close()
		return nil, nil, err
	}

	eng, err := engine.New(cat, re, cfg.Engine)
	if err != nil {
		re.Close()
		return nil, nil, err
	}
	return eng, re, nil
}
