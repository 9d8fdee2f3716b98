package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amikos-tech/onnx-predictor/internal/imageutil"
	"github.com/amikos-tech/onnx-predictor/predictor"
)

func newPredictCmd() *cobra.Command {
	predictCmd := &cobra.Command{
		Use:   "predict MODEL IMAGE [IMAGE...]",
		Short: "Classify images with a model",
		Args:  cobra.MinimumNArgs(2),
		RunE:  PredictHandler,
	}
	predictCmd.Flags().Int("batch-size", 0, "Images per predict call (default from config)")
	predictCmd.Flags().Int("mode", 0, "Execution mode: 0 cpu, 1 accelerated (runs on cpu)")
	predictCmd.Flags().Int("top-k", 5, "Number of classes to show per image")
	predictCmd.Flags().String("labels", "", "File with one class label per line")
	predictCmd.Flags().String("normalize", "imagenet", "Input normalization: imagenet or unit")
	predictCmd.Flags().Bool("softmax", true, "Apply softmax to the model output")
	predictCmd.Flags().Bool("metrics", false, "Print prediction metrics when done")
	return predictCmd
}

type predictFlags struct {
	batchSize int
	mode      int
	topK      int
	labels    string
	norm      imageutil.Normalization
	softmax   bool
	metrics   bool
}

func readPredictFlags(flags *pflag.FlagSet, batchSize, mode int) (predictFlags, error) {
	f := predictFlags{batchSize: batchSize, mode: mode}
	if flags.Changed("batch-size") {
		f.batchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("mode") {
		f.mode, _ = flags.GetInt("mode")
	}
	f.topK, _ = flags.GetInt("top-k")
	f.labels, _ = flags.GetString("labels")
	f.softmax, _ = flags.GetBool("softmax")
	f.metrics, _ = flags.GetBool("metrics")

	switch norm, _ := flags.GetString("normalize"); norm {
	case "imagenet":
		f.norm = imageutil.ImageNet
	case "unit":
		f.norm = imageutil.Unit
	default:
		return f, fmt.Errorf("unknown normalization %q (want imagenet or unit)", norm)
	}
	if f.batchSize < 1 {
		return f, fmt.Errorf("batch size must be at least 1, got %d", f.batchSize)
	}
	return f, nil
}

// PredictHandler preprocesses the images in parallel, runs them through the
// model batch by batch and prints the top classes of each.
func PredictHandler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := readPredictFlags(cmd.Flags(), cfg.Predictor.BatchSize, cfg.Predictor.Mode)
	if err != nil {
		return err
	}
	var labels []string
	if f.labels != "" {
		if labels, err = imageutil.LoadLabels(f.labels); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	rt, release, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	metrics := predictor.NewMetrics(nil)
	p, err := predictor.New(ctx, rt, args[0],
		predictor.WithBatchSize(f.batchSize),
		predictor.WithMode(predictor.ModeFromFlag(f.mode)),
		predictor.WithLogger(logger),
		predictor.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close predictor", zap.Error(err))
		}
	}()

	input, err := p.Model().InputInfo()
	if err != nil {
		return err
	}
	spec, err := imageutil.SpecFromShape(input.Shape, f.norm)
	if err != nil {
		return err
	}

	images := args[1:]
	tensors, err := preprocessAll(images, spec)
	if err != nil {
		return err
	}

	var data [][]string
	for start := 0; start < len(images); start += f.batchSize {
		end := min(start+f.batchSize, len(images))
		batch := make([]float32, 0, (end-start)*spec.SampleLen())
		for _, t := range tensors[start:end] {
			batch = append(batch, t...)
		}
		if err := p.Predict(ctx, batch); err != nil {
			return fmt.Errorf("predict %s: %w", filepath.Base(images[start]), err)
		}
		out, err := p.ReadPredictionOutput(ctx)
		if err != nil {
			return err
		}
		rows := imageutil.Batch(out, f.batchSize)
		if rows == nil {
			return fmt.Errorf("output of %d values does not split into %d rows", len(out), f.batchSize)
		}
		for i := range end - start {
			data = append(data, classRows(filepath.Base(images[start+i]), rows[i], f, labels)...)
		}
	}

	renderPredictions(cmd.OutOrStdout(), data)
	if f.metrics {
		renderMetrics(cmd.OutOrStdout(), metrics.Snapshot())
	}
	return nil
}

func preprocessAll(paths []string, spec imageutil.Spec) ([][]float32, error) {
	tensors := make([][]float32, len(paths))
	var g errgroup.Group
	g.SetLimit(max(runtime.GOMAXPROCS(0)-1, 1))
	for i, path := range paths {
		g.Go(func() error {
			img, err := imageutil.Load(path)
			if err != nil {
				return err
			}
			tensors[i], err = imageutil.Preprocess(img, spec)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tensors, nil
}

func classRows(name string, scores []float32, f predictFlags, labels []string) [][]string {
	if f.softmax {
		scores = imageutil.Softmax(scores)
	}
	var rows [][]string
	for rank, c := range imageutil.TopK(scores, f.topK) {
		label := ""
		if c.Index < len(labels) {
			label = labels[c.Index]
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(rank + 1),
			strconv.Itoa(c.Index),
			label,
			strconv.FormatFloat(float64(c.Score), 'f', 4, 32),
		})
	}
	return rows
}

func renderPredictions(w io.Writer, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"IMAGE", "RANK", "CLASS", "LABEL", "SCORE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func renderMetrics(w io.Writer, snap predictor.Snapshot) {
	fmt.Fprintln(w)
	var data [][]string
	for _, result := range snap.Results() {
		data = append(data, []string{"predictions{" + result + "}", strconv.FormatFloat(snap.Predictions[result], 'f', 0, 64)})
	}
	data = append(data,
		[]string{"engine builds", strconv.FormatFloat(snap.EngineBuilds, 'f', 0, 64)},
		[]string{"predict time", snap.PredictTotal.String()},
	)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}
