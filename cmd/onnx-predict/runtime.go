package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-predictor/ort"
)

func newRuntimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runtime",
		Short: "Resolve, download if needed, and probe the ONNX Runtime library",
		Args:  cobra.NoArgs,
		RunE:  RuntimeHandler,
	}
}

// RuntimeHandler prints where the shared library lives and which version it is.
func RuntimeHandler(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, err := ort.EnsureSharedLibrary(cmd.Context(), cfg.BootstrapOptions(logger)...)
	if err != nil {
		return err
	}
	info, err := ort.ProbeSharedLibrary(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "library: %s\n", info.Path)
	fmt.Fprintf(out, "version: %s\n", info.Version)
	if err := info.CheckCompatible(); err != nil {
		fmt.Fprintf(out, "compatible: no (%v)\n", err)
		return err
	}
	fmt.Fprintln(out, "compatible: yes")
	return nil
}
