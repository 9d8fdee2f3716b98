package ort

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/Masterminds/semver/v3"
	"github.com/ebitengine/purego"
)

// MinimumRuntimeVersion is the oldest ONNX Runtime release the bundled
// runtime bindings are known to work with.
const MinimumRuntimeVersion = "1.22.0"

// LibraryInfo describes a probed ONNX Runtime shared library.
type LibraryInfo struct {
	Path    string
	Version *semver.Version
}

// apiBase mirrors the C OrtApiBase struct: two function pointers.
type apiBase struct {
	GetAPI           uintptr
	GetVersionString uintptr
}

// ProbeSharedLibrary loads the library at path, reads its version through
// OrtGetApiBase and unloads it again. It does not initialise a runtime
// environment and needs no cgo.
func ProbeSharedLibrary(path string) (LibraryInfo, error) {
	absPath, err := validateLibraryFile(path)
	if err != nil {
		return LibraryInfo{}, err
	}

	handle, err := loadLibrary(absPath)
	if err != nil {
		return LibraryInfo{}, fmt.Errorf("failed to load ONNX Runtime library %q: %w", absPath, err)
	}
	defer func() {
		_ = closeLibrary(handle)
	}()

	sym, err := getSymbol(handle, "OrtGetApiBase")
	if err != nil || sym == 0 {
		return LibraryInfo{}, fmt.Errorf("%q does not export OrtGetApiBase: %v", absPath, err)
	}

	var getAPIBase func() uintptr
	purego.RegisterFunc(&getAPIBase, sym)
	basePtr := getAPIBase()
	if basePtr == 0 {
		return LibraryInfo{}, fmt.Errorf("OrtGetApiBase returned nil in %q", absPath)
	}

	// #nosec G103 -- basePtr points at a static OrtApiBase inside the library.
	base := (*apiBase)(unsafe.Pointer(basePtr))
	if base.GetVersionString == 0 {
		return LibraryInfo{}, fmt.Errorf("OrtApiBase.GetVersionString is nil in %q", absPath)
	}

	var getVersionString func() uintptr
	purego.RegisterFunc(&getVersionString, base.GetVersionString)
	raw := CstringToGo(getVersionString())

	version, err := parseRuntimeVersion(raw)
	if err != nil {
		return LibraryInfo{}, fmt.Errorf("library %q reports version %q: %w", absPath, raw, err)
	}
	return LibraryInfo{Path: absPath, Version: version}, nil
}

// CheckCompatible returns an error if the probed library is older than
// MinimumRuntimeVersion.
func (i LibraryInfo) CheckCompatible() error {
	if i.Version == nil {
		return fmt.Errorf("library %q has no version", i.Path)
	}
	constraint, err := semver.NewConstraint(">= " + MinimumRuntimeVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(i.Version) {
		return fmt.Errorf("ONNX Runtime %s at %q is older than the required %s", i.Version, i.Path, MinimumRuntimeVersion)
	}
	return nil
}

func parseRuntimeVersion(raw string) (*semver.Version, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty version string")
	}
	return semver.NewVersion(raw)
}
