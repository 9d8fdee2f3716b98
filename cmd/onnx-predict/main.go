// Command onnx-predict runs image classification models through ONNX Runtime.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amikos-tech/onnx-predictor/backend/onnxruntime"
	"github.com/amikos-tech/onnx-predictor/internal/config"
	"github.com/amikos-tech/onnx-predictor/internal/logutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "onnx-predict",
		Short:         "Run image models with ONNX Runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (console or json)")

	rootCmd.AddCommand(
		newPredictCmd(),
		newInfoCmd(),
		newRuntimeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadSettings reads the config file and environment, then applies the
// persistent flags on top.
func loadSettings(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logutil.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openRuntime bootstraps the shared library and returns a runtime plus the
// function that releases it.
func openRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*onnxruntime.Runtime, func(), error) {
	path, err := onnxruntime.InitializeWithBootstrap(ctx, cfg.BootstrapOptions(logger)...)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := onnxruntime.Release(); err != nil {
			logger.Warn("failed to release onnxruntime", zap.Error(err))
		}
	}
	rt, err := onnxruntime.New(onnxruntime.WithLogger(logger))
	if err != nil {
		release()
		return nil, nil, err
	}
	logger.Debug("onnxruntime ready", zap.String("library", path), zap.String("version", onnxruntime.Version()))
	return rt, release, nil
}
