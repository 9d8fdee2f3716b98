package ort

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// ModelInfo is the header of an ONNX model: producer metadata, imported
// operator sets and the graph's declared inputs and outputs.
type ModelInfo struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	Opsets          []Opset
	GraphName       string
	NodeCount       int
	Inputs          []ValueInfo
	Outputs         []ValueInfo
}

// Opset is one entry of a model's opset_import list. An empty domain is the
// default ai.onnx domain.
type Opset struct {
	Domain  string
	Version int64
}

// ValueInfo describes a graph input or output.
type ValueInfo struct {
	Name        string
	ElementType TensorElementDataType
	// Shape holds -1 for every symbolic dimension; DimParams carries the
	// symbol name at the same index.
	Shape     Shape
	DimParams []string
}

// ReadModelInfo reads the model file at path and parses its header.
//
//nolint:gosec // G304: the model path is supplied by the caller on purpose.
func ReadModelInfo(path string) (*ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %q: %w", path, err)
	}
	info, err := ParseModelInfo(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model %q: %w", path, err)
	}
	return info, nil
}

// ParseModelInfo decodes the header fields of a serialized ModelProto.
// Initializers and node bodies are skipped without being materialised.
func ParseModelInfo(data []byte) (*ModelInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("model data is empty")
	}

	info := &ModelInfo{}
	sawGraph := false
	err := walkFields(data, func(f field) error {
		var err error
		switch f.num {
		case 1:
			info.IRVersion = int64(f.varint)
		case 2:
			info.ProducerName = string(f.bytes)
		case 3:
			info.ProducerVersion = string(f.bytes)
		case 4:
			info.Domain = string(f.bytes)
		case 5:
			info.ModelVersion = int64(f.varint)
		case 7:
			sawGraph = true
			err = parseGraph(f.bytes, info)
		case 8:
			var opset Opset
			opset, err = parseOpset(f.bytes)
			info.Opsets = append(info.Opsets, opset)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !sawGraph {
		return nil, fmt.Errorf("model has no graph")
	}
	return info, nil
}

// Input returns the declared input with the given name.
func (m *ModelInfo) Input(name string) (ValueInfo, bool) {
	for _, vi := range m.Inputs {
		if vi.Name == name {
			return vi, true
		}
	}
	return ValueInfo{}, false
}

// OpsetVersion returns the imported version of the default operator set,
// or 0 when the model does not import it.
func (m *ModelInfo) OpsetVersion() int64 {
	for _, opset := range m.Opsets {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			return opset.Version
		}
	}
	return 0
}

func parseGraph(data []byte, info *ModelInfo) error {
	var inputs []ValueInfo
	initializers := make(map[string]struct{})
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			info.NodeCount++
		case 2:
			info.GraphName = string(f.bytes)
		case 5:
			name, err := parseInitializerName(f.bytes)
			if err != nil {
				return err
			}
			initializers[name] = struct{}{}
		case 11:
			vi, err := parseValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("graph input: %w", err)
			}
			inputs = append(inputs, vi)
		case 12:
			vi, err := parseValueInfo(f.bytes)
			if err != nil {
				return fmt.Errorf("graph output: %w", err)
			}
			info.Outputs = append(info.Outputs, vi)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Older IR versions list initializers among the graph inputs.
	for _, vi := range inputs {
		if _, ok := initializers[vi.Name]; ok {
			continue
		}
		info.Inputs = append(info.Inputs, vi)
	}
	return nil
}

func parseInitializerName(data []byte) (string, error) {
	var name string
	err := walkFields(data, func(f field) error {
		if f.num == 8 {
			name = string(f.bytes)
		}
		return nil
	})
	return name, err
}

func parseOpset(data []byte) (Opset, error) {
	var opset Opset
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			opset.Domain = string(f.bytes)
		case 2:
			opset.Version = int64(f.varint)
		}
		return nil
	})
	return opset, err
}

func parseValueInfo(data []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			vi.Name = string(f.bytes)
		case 2:
			return walkFields(f.bytes, func(tf field) error {
				if tf.num != 1 {
					// Sequence, map and optional types carry no tensor shape.
					return nil
				}
				return parseTensorType(tf.bytes, &vi)
			})
		}
		return nil
	})
	return vi, err
}

func parseTensorType(data []byte, vi *ValueInfo) error {
	return walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			vi.ElementType = TensorElementDataType(f.varint)
		case 2:
			vi.Shape = Shape{}
			return walkFields(f.bytes, func(sf field) error {
				if sf.num != 1 {
					return nil
				}
				dim, param, err := parseDimension(sf.bytes)
				if err != nil {
					return err
				}
				vi.Shape = append(vi.Shape, dim)
				vi.DimParams = append(vi.DimParams, param)
				return nil
			})
		}
		return nil
	})
}

func parseDimension(data []byte) (int64, string, error) {
	dim := int64(-1)
	var param string
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			dim = int64(f.varint)
		case 2:
			param = string(f.bytes)
		}
		return nil
	})
	return dim, param, err
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walkFields calls fn for each top-level field of a protobuf message.
// Fixed-width and group fields are skipped.
func walkFields(data []byte, fn func(field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("invalid field tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("invalid value for field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
