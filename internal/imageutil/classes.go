package imageutil

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Class is one ranked output.
type Class struct {
	Index int
	Score float32
}

// Softmax converts logits into probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	x := toFloat64(logits)
	floats.AddConst(-floats.LogSumExp(x), x)
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(math.Exp(v))
	}
	return out
}

// TopK returns the k highest scores in descending order. Ties keep the lower
// index first.
func TopK(scores []float32, k int) []Class {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	if k > len(scores) {
		k = len(scores)
	}
	x := toFloat64(scores)
	floats.Scale(-1, x)
	inds := make([]int, len(x))
	floats.Argsort(x, inds)
	stableTies(x, inds)

	out := make([]Class, k)
	for i := 0; i < k; i++ {
		out[i] = Class{Index: inds[i], Score: scores[inds[i]]}
	}
	return out
}

// stableTies orders runs of equal sorted values by index.
func stableTies(sorted []float64, inds []int) {
	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end] == sorted[start] {
			end++
		}
		run := inds[start:end]
		for i := 1; i < len(run); i++ {
			for j := i; j > 0 && run[j] < run[j-1]; j-- {
				run[j], run[j-1] = run[j-1], run[j]
			}
		}
		start = end
	}
}

// Batch splits a flat output holding batch rows into per-sample slices.
func Batch(values []float32, batch int) [][]float32 {
	if batch <= 0 || len(values)%batch != 0 {
		return nil
	}
	size := len(values) / batch
	rows := make([][]float32, batch)
	for i := range rows {
		rows[i] = values[i*size : (i+1)*size]
	}
	return rows
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
