package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-predictor/ort"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "onnx-predict %s\n", version)
			fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "default onnxruntime %s (minimum %s)\n", ort.DefaultOnnxRuntimeVersion, ort.MinimumRuntimeVersion)
			return nil
		},
	}
}
