package capi

import "github.com/amikos-tech/onnx-predictor/predictor"

// Code is the stable integer form of an error kind at the C boundary.
type Code int32

const (
	CodeOK              Code = 0
	CodeUnknown         Code = -1
	CodeInvalidArgument Code = -2
	CodeInvalidHandle   Code = -3
	CodeModelLoad       Code = -4
	CodeEngineBuild     Code = -5
	CodeAllocation      Code = -6
	CodeShapeMismatch   Code = -7
	CodeInvocation      Code = -8
	CodeNotReady        Code = -9
)

var kindCodes = map[predictor.Kind]Code{
	predictor.KindInvalidArgument: CodeInvalidArgument,
	predictor.KindInvalidHandle:   CodeInvalidHandle,
	predictor.KindModelLoad:       CodeModelLoad,
	predictor.KindEngineBuild:     CodeEngineBuild,
	predictor.KindAllocation:      CodeAllocation,
	predictor.KindShapeMismatch:   CodeShapeMismatch,
	predictor.KindInvocation:      CodeInvocation,
	predictor.KindNotReady:        CodeNotReady,
}

// CodeOf maps err to its Code. A nil error is CodeOK.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if code, ok := kindCodes[predictor.KindOf(err)]; ok {
		return code
	}
	return CodeUnknown
}

func (c Code) String() string {
	if c == CodeOK {
		return "ok"
	}
	for kind, code := range kindCodes {
		if code == c {
			return kind.String()
		}
	}
	return predictor.KindUnknown.String()
}
