package ort

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

const (
	// DefaultOnnxRuntimeVersion is the ONNX Runtime release fetched when no
	// version is configured.
	DefaultOnnxRuntimeVersion = "1.23.1"

	defaultBootstrapBaseURL    = "https://github.com/microsoft/onnxruntime/releases/download"
	defaultBootstrapLockWait   = 5 * time.Minute
	defaultMaxArchiveBytes     = int64(512 << 20)
	defaultMaxExtractedBytes   = int64(1 << 30)
	bootstrapCacheSubdirectory = "onnx-predictor"
)

// Environment variables read by EnsureSharedLibrary before options apply.
const (
	EnvLibraryPath     = "ONNXRUNTIME_LIB_PATH"
	EnvCacheDir        = "ONNXRUNTIME_CACHE_DIR"
	EnvVersion         = "ONNXRUNTIME_VERSION"
	EnvDisableDownload = "ONNXRUNTIME_DISABLE_DOWNLOAD"
)

var errSharedLibraryNotFound = errors.New("ONNX Runtime shared library not found")

// BootstrapOption configures EnsureSharedLibrary.
type BootstrapOption func(*bootstrapConfig) error

type bootstrapConfig struct {
	libraryPath       string
	cacheDir          string
	version           string
	disableDownload   bool
	expectedSHA256    string
	baseURL           string
	httpClient        *http.Client
	lockTimeout       time.Duration
	maxArchiveBytes   int64
	maxExtractedBytes int64
	logger            *zap.Logger
	goos              string
	goarch            string
}

// WithBootstrapLibraryPath skips resolution and download and uses an existing
// shared library.
func WithBootstrapLibraryPath(path string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("bootstrap library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// WithBootstrapCacheDir sets where archives are downloaded and extracted.
func WithBootstrapCacheDir(dir string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("bootstrap cache directory cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithBootstrapVersion selects the ONNX Runtime release (for example 1.23.1).
func WithBootstrapVersion(version string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if strings.TrimSpace(version) == "" {
			return fmt.Errorf("bootstrap version cannot be empty")
		}
		cfg.version = version
		return nil
	}
}

// WithBootstrapDisableDownload makes a cache miss an error instead of a download.
func WithBootstrapDisableDownload(disable bool) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.disableDownload = disable
		return nil
	}
}

// WithBootstrapExpectedSHA256 pins the SHA-256 of the downloaded archive.
func WithBootstrapExpectedSHA256(checksum string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		checksum = strings.ToLower(strings.TrimSpace(checksum))
		if len(checksum) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters, got %d", len(checksum))
		}
		for _, r := range checksum {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return fmt.Errorf("expected SHA256 checksum must be hex, got %q", checksum)
			}
		}
		cfg.expectedSHA256 = checksum
		return nil
	}
}

// WithBootstrapLockTimeout bounds how long a bootstrap waits for another
// process that is installing the same runtime.
func WithBootstrapLockTimeout(timeout time.Duration) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("bootstrap lock timeout must be > 0, got %s", timeout)
		}
		cfg.lockTimeout = timeout
		return nil
	}
}

// WithBootstrapLogger sets the logger used for cache and download events.
func WithBootstrapLogger(logger *zap.Logger) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if logger == nil {
			return fmt.Errorf("bootstrap logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

func withBootstrapBaseURL(baseURL string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		baseURL = strings.TrimSpace(baseURL)
		if baseURL == "" {
			return fmt.Errorf("bootstrap base URL cannot be empty")
		}
		cfg.baseURL = baseURL
		return nil
	}
}

func withBootstrapHTTPClient(client *http.Client) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if client == nil {
			return fmt.Errorf("bootstrap HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

func withBootstrapLimits(maxArchive, maxExtracted int64) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if maxArchive <= 0 || maxExtracted <= 0 {
			return fmt.Errorf("bootstrap size limits must be > 0")
		}
		cfg.maxArchiveBytes = maxArchive
		cfg.maxExtractedBytes = maxExtracted
		return nil
	}
}

func withBootstrapPlatform(goos, goarch string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.goos = goos
		cfg.goarch = goarch
		return nil
	}
}

// EnsureSharedLibrary returns an absolute path to a usable ONNX Runtime
// shared library. An explicit library path wins; otherwise the versioned
// install under the cache directory is used, downloading and extracting
// the official release archive on a miss.
func EnsureSharedLibrary(ctx context.Context, opts ...BootstrapOption) (string, error) {
	cfg, err := resolveBootstrapConfig(opts...)
	if err != nil {
		return "", err
	}

	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	artifact, err := resolveRuntimeArtifact(cfg.goos, cfg.goarch)
	if err != nil {
		return "", err
	}

	installDir := filepath.Join(cfg.cacheDir, artifact.archiveName(cfg.version))
	path, err := resolveExtractedLibraryPath(installDir, artifact)
	switch {
	case err == nil:
		cfg.logger.Debug("using cached ONNX Runtime", zap.String("path", path))
		return path, nil
	case !errors.Is(err, errSharedLibraryNotFound):
		return "", err
	}

	if cfg.disableDownload {
		return "", fmt.Errorf("ONNX Runtime %s not found in cache and download is disabled: %s", cfg.version, installDir)
	}

	lockPath := filepath.Join(cfg.cacheDir, ".locks", artifact.platform+"-"+cfg.version+".lock")
	err = withProcessFileLock(ctx, lockPath, cfg.lockTimeout, func() error {
		// Another process may have finished the install while we waited.
		var resolveErr error
		path, resolveErr = resolveExtractedLibraryPath(installDir, artifact)
		if resolveErr == nil {
			return nil
		}
		if !errors.Is(resolveErr, errSharedLibraryNotFound) {
			return resolveErr
		}

		if err := installRuntime(ctx, cfg, artifact, installDir); err != nil {
			return err
		}
		path, resolveErr = resolveExtractedLibraryPath(installDir, artifact)
		if resolveErr != nil {
			return fmt.Errorf("bootstrap completed but shared library could not be resolved: %w", resolveErr)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	cfg.logger.Info("ONNX Runtime ready", zap.String("version", cfg.version), zap.String("path", path))
	return path, nil
}

func resolveBootstrapConfig(opts ...BootstrapOption) (bootstrapConfig, error) {
	disableDownload, err := parseBoolEnv(EnvDisableDownload)
	if err != nil {
		return bootstrapConfig{}, err
	}

	cfg := bootstrapConfig{
		libraryPath:       strings.TrimSpace(os.Getenv(EnvLibraryPath)),
		cacheDir:          strings.TrimSpace(os.Getenv(EnvCacheDir)),
		version:           strings.TrimSpace(os.Getenv(EnvVersion)),
		disableDownload:   disableDownload,
		baseURL:           defaultBootstrapBaseURL,
		httpClient:        &http.Client{Timeout: 2 * time.Minute},
		lockTimeout:       defaultBootstrapLockWait,
		maxArchiveBytes:   defaultMaxArchiveBytes,
		maxExtractedBytes: defaultMaxExtractedBytes,
		logger:            zap.NewNop(),
		goos:              runtime.GOOS,
		goarch:            runtime.GOARCH,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return bootstrapConfig{}, err
		}
	}

	if cfg.version == "" {
		cfg.version = DefaultOnnxRuntimeVersion
	}
	if cfg.version, err = normalizeRuntimeVersion(cfg.version); err != nil {
		return bootstrapConfig{}, err
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultBootstrapCacheDir(cfg.logger)
	}
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")

	return cfg, nil
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}

	return absPath, nil
}

func defaultBootstrapCacheDir(logger *zap.Logger) string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, bootstrapCacheSubdirectory, "onnxruntime")
	}

	fallback := filepath.Join(os.TempDir(), bootstrapCacheSubdirectory, "onnxruntime")
	logger.Warn("user cache directory unavailable, using a temporary ONNX Runtime cache; set "+EnvCacheDir+" for a persistent one",
		zap.String("path", fallback), zap.Error(err))
	return fallback
}

// normalizeRuntimeVersion accepts "1.23.1" or "v1.23.1" and rejects anything
// that is not a plain major.minor.patch release.
func normalizeRuntimeVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return "", fmt.Errorf("ONNX Runtime version is empty")
	}

	parsed, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v"))
	if err != nil {
		return "", fmt.Errorf("ONNX Runtime version must have format x.y.z, got %q: %w", version, err)
	}
	if parsed.Prerelease() != "" || parsed.Metadata() != "" {
		return "", fmt.Errorf("ONNX Runtime version must be a release x.y.z, got %q", version)
	}
	return parsed.String(), nil
}

func parseBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed, nil
	}

	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q (expected true/false, 1/0, yes/no, on/off)", name, value)
	}
}
