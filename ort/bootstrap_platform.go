package ort

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// runtimeArtifact describes the release archive for one GOOS/GOARCH pair.
type runtimeArtifact struct {
	platform         string
	archiveExtension string
	primaryLibrary   string
	libraryGlob      string
}

var (
	darwinLibrary  = runtimeArtifact{archiveExtension: "tgz", primaryLibrary: "libonnxruntime.dylib", libraryGlob: "libonnxruntime*.dylib"}
	linuxLibrary   = runtimeArtifact{archiveExtension: "tgz", primaryLibrary: "libonnxruntime.so", libraryGlob: "libonnxruntime.so*"}
	windowsLibrary = runtimeArtifact{archiveExtension: "zip", primaryLibrary: "onnxruntime.dll", libraryGlob: "onnxruntime*.dll"}

	runtimePlatforms = map[string]struct {
		base     runtimeArtifact
		platform string
	}{
		"darwin/arm64":  {darwinLibrary, "osx-arm64"},
		"darwin/amd64":  {darwinLibrary, "osx-x86_64"},
		"linux/arm64":   {linuxLibrary, "linux-aarch64"},
		"linux/amd64":   {linuxLibrary, "linux-x64"},
		"windows/amd64": {windowsLibrary, "win-x64"},
		"windows/arm64": {windowsLibrary, "win-arm64"},
	}
)

func resolveRuntimeArtifact(goos, goarch string) (runtimeArtifact, error) {
	entry, ok := runtimePlatforms[goos+"/"+goarch]
	if !ok {
		return runtimeArtifact{}, fmt.Errorf("unsupported platform for ONNX Runtime bootstrap: GOOS=%s GOARCH=%s", goos, goarch)
	}
	artifact := entry.base
	artifact.platform = entry.platform
	return artifact, nil
}

func (a runtimeArtifact) archiveName(version string) string {
	return "onnxruntime-" + a.platform + "-" + version
}

func (a runtimeArtifact) archiveFilename(version string) string {
	return a.archiveName(version) + "." + a.archiveExtension
}

func (a runtimeArtifact) downloadURL(baseURL, version string) string {
	return strings.TrimRight(baseURL, "/") + "/v" + version + "/" + a.archiveFilename(version)
}

// resolveExtractedLibraryPath finds the shared library inside an install
// directory. It returns errSharedLibraryNotFound when nothing is there and a
// descriptive error when candidates exist but none is usable.
func resolveExtractedLibraryPath(installDir string, artifact runtimeArtifact) (string, error) {
	libDir := filepath.Join(installDir, "lib")

	candidates := []string{filepath.Join(libDir, artifact.primaryLibrary)}
	matches, err := filepath.Glob(filepath.Join(libDir, artifact.libraryGlob))
	if err != nil {
		return "", fmt.Errorf("failed to resolve ONNX Runtime library path: %w", err)
	}
	sort.Strings(matches)
	candidates = append(candidates, matches...)

	var invalid []error
	for _, candidate := range candidates {
		path, err := validateLibraryFile(candidate)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			invalid = append(invalid, fmt.Errorf("%s: %w", candidate, err))
		}
	}

	if len(invalid) > 0 {
		return "", fmt.Errorf("found ONNX Runtime shared library candidates in %q but none are valid: %w", libDir, errors.Join(invalid...))
	}
	return "", errSharedLibraryNotFound
}
