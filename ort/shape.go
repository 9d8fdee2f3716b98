package ort

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape is a tensor shape. Negative dimensions mark dimensions that the
// model leaves symbolic (for example a dynamic batch).
type Shape []int64

// NewShape creates a new shape from dimensions.
func NewShape(dims ...int64) Shape {
	return Shape(dims)
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Clone returns a copy that does not alias s. A rank-0 shape stays non-nil.
func (s Shape) Clone() Shape {
	if len(s) == 0 {
		return Shape{}
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, dim := range s {
		if dim < 0 {
			return false
		}
	}
	return true
}

// ElementCount returns the number of elements a tensor of this shape holds.
func (s Shape) ElementCount() (int, error) {
	return ShapeElementCount(s)
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.FormatInt(dim, 10)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ShapeElementCount returns the total element count for a shape.
// Dimensions must be non-negative; zero dimensions produce a count of zero.
func ShapeElementCount(shape Shape) (int, error) {
	maxInt := int(^uint(0) >> 1)

	count := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("invalid shape dimension at index %d: %d (must be >= 0)", i, dim)
		}
		if dim == 0 {
			count = 0
			continue
		}
		if count == 0 {
			continue
		}
		if dim > int64(maxInt) || count > maxInt/int(dim) {
			return 0, fmt.Errorf("shape %v exceeds maximum supported element count", []int64(shape))
		}
		count *= int(dim)
	}

	return count, nil
}

// ResolveBatch returns a copy of s with a symbolic leading dimension replaced
// by batch. Any other symbolic dimension is an error.
func (s Shape) ResolveBatch(batch int64) (Shape, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batch)
	}
	out := s.Clone()
	for i, dim := range out {
		if dim >= 0 {
			continue
		}
		if i != 0 {
			return nil, fmt.Errorf("dimension %d of shape %v is symbolic", i, s)
		}
		out[i] = batch
	}
	return out, nil
}

// ParseShape parses a comma-separated shape string (for example: "1,224,224,3").
func ParseShape(raw string) (Shape, error) {
	parts := strings.Split(raw, ",")
	shape := make(Shape, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty dimension")
		}

		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", part, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		shape = append(shape, dim)
	}

	return shape, nil
}
