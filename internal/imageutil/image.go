// Package imageutil turns images into model input tensors and model outputs
// into ranked classes.
package imageutil

import (
	"bufio"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/amikos-tech/onnx-predictor/ort"
)

// Layout is the memory order of a rank-4 image tensor.
type Layout int

const (
	// NHWC is [batch, height, width, channels].
	NHWC Layout = iota
	// NCHW is [batch, channels, height, width].
	NCHW
)

func (l Layout) String() string {
	if l == NCHW {
		return "NCHW"
	}
	return "NHWC"
}

// Normalization maps 0..1 channel values to (v - Mean) / Std.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var (
	ImageNet = Normalization{
		Mean: [3]float32{0.485, 0.456, 0.406},
		Std:  [3]float32{0.229, 0.224, 0.225},
	}
	Unit = Normalization{Std: [3]float32{1, 1, 1}}
)

// Spec describes the tensor one image is converted into.
type Spec struct {
	Width    int
	Height   int
	Channels int
	Layout   Layout
	Norm     Normalization
}

// SampleLen is the number of values one image occupies.
func (s Spec) SampleLen() int {
	return s.Width * s.Height * s.Channels
}

// SpecFromShape infers a Spec from a rank-4 input shape. A trailing dimension
// of 1 or 3 means NHWC; otherwise a dimension 1 of 1 or 3 means NCHW.
func SpecFromShape(shape ort.Shape, norm Normalization) (Spec, error) {
	if shape.Rank() != 4 {
		return Spec{}, fmt.Errorf("image input must have rank 4, got shape %s", shape)
	}
	isChannels := func(d int64) bool { return d == 1 || d == 3 }
	var spec Spec
	switch {
	case isChannels(shape[3]):
		spec = Spec{Height: int(shape[1]), Width: int(shape[2]), Channels: int(shape[3]), Layout: NHWC}
	case isChannels(shape[1]):
		spec = Spec{Channels: int(shape[1]), Height: int(shape[2]), Width: int(shape[3]), Layout: NCHW}
	default:
		return Spec{}, fmt.Errorf("cannot find a 1 or 3 channel dimension in shape %s", shape)
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return Spec{}, fmt.Errorf("image input shape %s has symbolic spatial dimensions", shape)
	}
	spec.Norm = norm
	return spec, nil
}

// Load decodes a JPEG, PNG, GIF, WebP, BMP or TIFF file.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Resize scales img to width x height with bilinear filtering.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Preprocess resizes img and writes it into a new tensor laid out as spec
// says. Single-channel specs use the mean of the color channels.
func Preprocess(img image.Image, spec Spec) ([]float32, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", spec.Width, spec.Height)
	}
	if spec.Channels != 1 && spec.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", spec.Channels)
	}
	rgba := Resize(img, spec.Width, spec.Height)
	out := make([]float32, spec.SampleLen())
	plane := spec.Width * spec.Height

	for y := 0; y < spec.Height; y++ {
		for x := 0; x < spec.Width; x++ {
			px := rgba.RGBAAt(x, y)
			rgb := [3]float32{float32(px.R) / 255, float32(px.G) / 255, float32(px.B) / 255}
			if spec.Channels == 1 {
				rgb[0] = (rgb[0] + rgb[1] + rgb[2]) / 3
			}
			for c := 0; c < spec.Channels; c++ {
				v := (rgb[c] - spec.Norm.Mean[c]) / spec.Norm.Std[c]
				idx := y*spec.Width + x
				if spec.Layout == NCHW {
					out[c*plane+idx] = v
				} else {
					out[idx*spec.Channels+c] = v
				}
			}
		}
	}
	return out, nil
}

// LoadLabels reads one label per line. Blank lines are kept so that line
// numbers stay aligned with class indices.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels %s: %w", path, err)
	}
	return labels, nil
}
