package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/amikos-tech/onnx-predictor/ort"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info MODEL",
		Short: "Show a model's declared inputs, outputs and opsets",
		Args:  cobra.ExactArgs(1),
		RunE:  InfoHandler,
	}
}

// InfoHandler reads the model file directly; it does not load ONNX Runtime.
func InfoHandler(cmd *cobra.Command, args []string) error {
	info, err := ort.ReadModelInfo(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "model:    %s\n", args[0])
	fmt.Fprintf(out, "ir:       %d\n", info.IRVersion)
	if info.ProducerName != "" {
		fmt.Fprintf(out, "producer: %s %s\n", info.ProducerName, info.ProducerVersion)
	}
	opsets := make([]string, len(info.Opsets))
	for i, o := range info.Opsets {
		domain := o.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		opsets[i] = domain + "=" + strconv.FormatInt(o.Version, 10)
	}
	fmt.Fprintf(out, "opsets:   %s\n", strings.Join(opsets, ", "))
	fmt.Fprintf(out, "graph:    %s (%d nodes)\n\n", info.GraphName, info.NodeCount)

	var data [][]string
	for _, v := range info.Inputs {
		data = append(data, valueRow("input", v))
	}
	for _, v := range info.Outputs {
		data = append(data, valueRow("output", v))
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"KIND", "NAME", "TYPE", "SHAPE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func valueRow(kind string, v ort.ValueInfo) []string {
	dims := make([]string, len(v.Shape))
	for i, d := range v.Shape {
		switch {
		case d >= 0:
			dims[i] = strconv.FormatInt(d, 10)
		case i < len(v.DimParams) && v.DimParams[i] != "":
			dims[i] = v.DimParams[i]
		default:
			dims[i] = "?"
		}
	}
	return []string{kind, v.Name, v.ElementType.String(), "[" + strings.Join(dims, " ") + "]"}
}
