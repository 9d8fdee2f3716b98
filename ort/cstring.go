package ort

import "unsafe"

// maxCStringLen bounds the scan for a terminator. Runtime version strings are
// a few bytes long; anything longer points at the wrong memory.
const maxCStringLen = 1 << 12

// CstringToGo converts a NUL-terminated C string to a Go string.
// It returns "" for a nil pointer and truncates at maxCStringLen bytes.
func CstringToGo(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}

	// #nosec G103 -- ptr comes from the runtime library and is only read.
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxCStringLen)
	for i, b := range bytes {
		if b == 0 {
			return string(bytes[:i])
		}
	}
	return string(bytes)
}
