//go:build cgo

package onnxruntime

import (
	"fmt"
	"strings"
	"sync"

	ortgo "github.com/yalue/onnxruntime_go"
)

var (
	envMu    sync.Mutex
	refCount int
	libPath  string
)

// Initialize loads the shared library at libraryPath and creates the process
// environment. Calls are reference counted; each successful call must be
// matched by Release. Once initialized, a different libraryPath is an error.
func Initialize(libraryPath string) error {
	libraryPath = strings.TrimSpace(libraryPath)
	if libraryPath == "" {
		return fmt.Errorf("library path cannot be empty")
	}

	envMu.Lock()
	defer envMu.Unlock()

	if refCount > 0 {
		if libraryPath != libPath {
			return fmt.Errorf("environment already initialized with %s", libPath)
		}
		refCount++
		return nil
	}

	ortgo.SetSharedLibraryPath(libraryPath)
	if err := ortgo.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize onnxruntime from %s: %w", libraryPath, err)
	}
	libPath = libraryPath
	refCount = 1
	return nil
}

// Release drops one reference and destroys the environment when the last one
// goes away. Releasing an uninitialized environment is a no-op.
func Release() error {
	envMu.Lock()
	defer envMu.Unlock()

	if refCount == 0 {
		return nil
	}
	refCount--
	if refCount > 0 {
		return nil
	}
	libPath = ""
	if err := ortgo.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy onnxruntime environment: %w", err)
	}
	return nil
}

// IsInitialized reports whether the environment is live.
func IsInitialized() bool {
	envMu.Lock()
	defer envMu.Unlock()
	return refCount > 0 && ortgo.IsInitialized()
}

// LibraryPath returns the path the environment was initialized from.
func LibraryPath() string {
	envMu.Lock()
	defer envMu.Unlock()
	return libPath
}

// Version returns the loaded runtime's version string, or "" before Initialize.
func Version() string {
	if !IsInitialized() {
		return ""
	}
	return ortgo.GetVersion()
}
