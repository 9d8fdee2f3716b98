// Package onnxtest synthesises small ONNX models for tests.
package onnxtest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// ElemFloat is the TensorProto.DataType value for float32.
const ElemFloat = 1

// Model is a single-graph ONNX model.
type Model struct {
	IRVersion    int64
	Opset        int64
	ProducerName string
	GraphName    string
	Nodes        []Node
	Inputs       []Value
	Outputs      []Value
	// Initializers are float32 constants, listed by name.
	Initializers []Initializer
}

// Node is one operator application.
type Node struct {
	Name    string
	OpType  string
	Inputs  []string
	Outputs []string
}

// Value is a typed graph input or output. Negative dims are written as
// symbolic dimensions named by DimParam (or "N" when empty).
type Value struct {
	Name     string
	ElemType int32
	Dims     []int64
	DimParam string
}

// Initializer is a float32 constant tensor.
type Initializer struct {
	Name string
	Dims []int64
	Data []float32
}

// Unary returns a model applying opType to a single float input of the
// given shape. Identity and Relu keep the shape unchanged.
func Unary(opType string, dims ...int64) Model {
	return Model{
		IRVersion:    7,
		Opset:        13,
		ProducerName: "onnxtest",
		GraphName:    "unary",
		Nodes: []Node{{
			Name:    "op",
			OpType:  opType,
			Inputs:  []string{"input"},
			Outputs: []string{"output"},
		}},
		Inputs:  []Value{{Name: "input", ElemType: ElemFloat, Dims: dims}},
		Outputs: []Value{{Name: "output", ElemType: ElemFloat, Dims: dims}},
	}
}

// Marshal encodes the model as a ModelProto.
func (m Model) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	if m.ProducerName != "" {
		b = appendStringField(b, 2, m.ProducerName)
	}
	b = appendMessageField(b, 7, m.marshalGraph())

	var opset []byte
	opset = appendStringField(opset, 1, "")
	opset = appendVarintField(opset, 2, uint64(m.Opset))
	b = appendMessageField(b, 8, opset)
	return b
}

// WriteFile writes the encoded model into a temporary directory owned by t
// and returns its path.
func (m Model) WriteFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, m.Marshal(), 0o600); err != nil {
		t.Fatalf("failed to write test model: %v", err)
	}
	return path
}

func (m Model) marshalGraph() []byte {
	var b []byte
	for _, node := range m.Nodes {
		b = appendMessageField(b, 1, marshalNode(node))
	}
	b = appendStringField(b, 2, m.GraphName)
	for _, init := range m.Initializers {
		b = appendMessageField(b, 5, marshalInitializer(init))
	}
	for _, in := range m.Inputs {
		b = appendMessageField(b, 11, marshalValue(in))
	}
	for _, out := range m.Outputs {
		b = appendMessageField(b, 12, marshalValue(out))
	}
	return b
}

func marshalNode(n Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendStringField(b, 1, in)
	}
	for _, out := range n.Outputs {
		b = appendStringField(b, 2, out)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	return b
}

func marshalInitializer(init Initializer) []byte {
	var b []byte
	for _, dim := range init.Dims {
		b = appendVarintField(b, 1, uint64(dim))
	}
	b = appendVarintField(b, 2, ElemFloat)
	var packed []byte
	for _, v := range init.Data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = appendMessageField(b, 4, packed)
	b = appendStringField(b, 8, init.Name)
	return b
}

func marshalValue(v Value) []byte {
	var shape []byte
	for _, dim := range v.Dims {
		var d []byte
		if dim < 0 {
			param := v.DimParam
			if param == "" {
				param = "N"
			}
			d = appendStringField(d, 2, param)
		} else {
			d = appendVarintField(d, 1, uint64(dim))
		}
		shape = appendMessageField(shape, 1, d)
	}

	var tensorType []byte
	tensorType = appendVarintField(tensorType, 1, uint64(v.ElemType))
	tensorType = appendMessageField(tensorType, 2, shape)

	var typ []byte
	typ = appendMessageField(typ, 1, tensorType)

	var b []byte
	b = appendStringField(b, 1, v.Name)
	b = appendMessageField(b, 2, typ)
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
