package ort

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBootstrapEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvLibraryPath, EnvCacheDir, EnvVersion, EnvDisableDownload} {
		t.Setenv(name, "")
	}
}

type archiveEntry struct {
	name    string
	content string
	link    string
}

func runtimeArchiveEntries(artifact runtimeArtifact, version string, withLibrary bool) []archiveEntry {
	root := artifact.archiveName(version)
	entries := []archiveEntry{{name: root + "/include/onnxruntime_c_api.h", content: "header"}}
	if withLibrary {
		entries = append(entries, archiveEntry{name: root + "/lib/" + artifact.primaryLibrary, content: "fake-onnxruntime-library"})
	} else {
		entries = append(entries, archiveEntry{name: root + "/lib/README.txt", content: "no library here"})
	}
	return entries
}

func buildTGZ(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.content))}
		if e.link != "" {
			hdr = &tar.Header{Name: e.name, Mode: 0o777, Typeflag: tar.TypeSymlink, Linkname: e.link}
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.link == "" {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func buildZIP(t *testing.T, entries []archiveEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(e.content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newArchiveServer(t *testing.T, path string, payload []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		// Slow enough that concurrent callers overlap on the lock.
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func linuxBootstrap(t *testing.T, version string, payload []byte, extra ...BootstrapOption) ([]BootstrapOption, *atomic.Int32) {
	t.Helper()

	artifact, err := resolveRuntimeArtifact("linux", "amd64")
	require.NoError(t, err)
	server, hits := newArchiveServer(t, "/v"+version+"/"+artifact.archiveFilename(version), payload)

	opts := []BootstrapOption{
		withBootstrapPlatform("linux", "amd64"),
		WithBootstrapCacheDir(t.TempDir()),
		WithBootstrapVersion(version),
		withBootstrapBaseURL(server.URL),
		withBootstrapHTTPClient(server.Client()),
	}
	return append(opts, extra...), hits
}

func TestResolveRuntimeArtifact(t *testing.T) {
	tests := []struct {
		goos, goarch string
		platform     string
		extension    string
		library      string
		wantErr      bool
	}{
		{goos: "darwin", goarch: "arm64", platform: "osx-arm64", extension: "tgz", library: "libonnxruntime.dylib"},
		{goos: "darwin", goarch: "amd64", platform: "osx-x86_64", extension: "tgz", library: "libonnxruntime.dylib"},
		{goos: "linux", goarch: "amd64", platform: "linux-x64", extension: "tgz", library: "libonnxruntime.so"},
		{goos: "linux", goarch: "arm64", platform: "linux-aarch64", extension: "tgz", library: "libonnxruntime.so"},
		{goos: "windows", goarch: "amd64", platform: "win-x64", extension: "zip", library: "onnxruntime.dll"},
		{goos: "windows", goarch: "arm64", platform: "win-arm64", extension: "zip", library: "onnxruntime.dll"},
		{goos: "linux", goarch: "386", wantErr: true},
		{goos: "plan9", goarch: "amd64", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			got, err := resolveRuntimeArtifact(tc.goos, tc.goarch)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.platform, got.platform)
			assert.Equal(t, tc.extension, got.archiveExtension)
			assert.Equal(t, tc.library, got.primaryLibrary)
		})
	}
}

func TestRuntimeArtifactDownloadURL(t *testing.T) {
	artifact, err := resolveRuntimeArtifact("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t,
		"https://example.com/releases/v1.23.1/onnxruntime-linux-x64-1.23.1.tgz",
		artifact.downloadURL("https://example.com/releases/", "1.23.1"))
}

func TestEnsureSharedLibraryWithExplicitPath(t *testing.T) {
	clearBootstrapEnv(t)

	libPath := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(libPath, []byte("dummy"), 0o644))

	resolved, err := EnsureSharedLibrary(context.Background(), WithBootstrapLibraryPath(libPath))
	require.NoError(t, err)
	want, _ := filepath.Abs(libPath)
	assert.Equal(t, want, resolved)
}

func TestEnsureSharedLibraryExplicitPathFromEnv(t *testing.T) {
	clearBootstrapEnv(t)

	libPath := filepath.Join(t.TempDir(), "libonnxruntime.so")
	require.NoError(t, os.WriteFile(libPath, []byte("dummy"), 0o644))
	t.Setenv(EnvLibraryPath, libPath)

	resolved, err := EnsureSharedLibrary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, libPath, resolved)
}

func TestEnsureSharedLibraryDownloadAndCache(t *testing.T) {
	clearBootstrapEnv(t)

	artifact, _ := resolveRuntimeArtifact("linux", "amd64")
	payload := buildTGZ(t, runtimeArchiveEntries(artifact, "1.99.1", true))
	opts, hits := linuxBootstrap(t, "1.99.1", payload)

	first, err := EnsureSharedLibrary(context.Background(), opts...)
	require.NoError(t, err)
	assert.FileExists(t, first)

	second, err := EnsureSharedLibrary(context.Background(), opts...)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits.Load(), "second call must be served from cache")
}

func TestEnsureSharedLibraryConcurrentCallersDownloadOnce(t *testing.T) {
	clearBootstrapEnv(t)

	artifact, _ := resolveRuntimeArtifact("linux", "amd64")
	payload := buildTGZ(t, runtimeArchiveEntries(artifact, "1.99.2", true))
	opts, hits := linuxBootstrap(t, "1.99.2", payload)

	const workers = 8
	var wg sync.WaitGroup
	paths := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = EnsureSharedLibrary(context.Background(), opts...)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestEnsureSharedLibraryChecksum(t *testing.T) {
	clearBootstrapEnv(t)

	artifact, _ := resolveRuntimeArtifact("linux", "amd64")
	payload := buildTGZ(t, runtimeArchiveEntries(artifact, "1.99.3", true))
	sum := sha256.Sum256(payload)
	good := hex.EncodeToString(sum[:])

	t.Run("match", func(t *testing.T) {
		opts, _ := linuxBootstrap(t, "1.99.3", payload, WithBootstrapExpectedSHA256(good))
		_, err := EnsureSharedLibrary(context.Background(), opts...)
		require.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		bad := "0000000000000000000000000000000000000000000000000000000000000000"
		opts, _ := linuxBootstrap(t, "1.99.3", payload, WithBootstrapExpectedSHA256(bad))
		_, err := EnsureSharedLibrary(context.Background(), opts...)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum mismatch")
	})
}

func TestEnsureSharedLibraryDisableDownload(t *testing.T) {
	clearBootstrapEnv(t)

	_, err := EnsureSharedLibrary(context.Background(),
		withBootstrapPlatform("linux", "amd64"),
		WithBootstrapCacheDir(t.TempDir()),
		WithBootstrapVersion("1.99.4"),
		WithBootstrapDisableDownload(true),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download is disabled")
}

func TestEnsureSharedLibraryArchiveWithoutLibrary(t *testing.T) {
	clearBootstrapEnv(t)

	artifact, _ := resolveRuntimeArtifact("linux", "amd64")
	payload := buildTGZ(t, runtimeArchiveEntries(artifact, "1.99.5", false))
	opts, _ := linuxBootstrap(t, "1.99.5", payload)

	_, err := EnsureSharedLibrary(context.Background(), opts...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not contain expected shared library")
}

func TestEnsureSharedLibraryMentionsSkippedLinks(t *testing.T) {
	clearBootstrapEnv(t)

	artifact, _ := resolveRuntimeArtifact("linux", "amd64")
	root := artifact.archiveName("1.99.6")
	payload := buildTGZ(t, []archiveEntry{
		{name: root + "/include/onnxruntime_c_api.h", content: "header"},
		{name: root + "/lib/" + artifact.primaryLibrary, link: "libonnxruntime.so.1.99.6"},
	})
	opts, _ := linuxBootstrap(t, "1.99.6", payload)

	_, err := EnsureSharedLibrary(context.Background(), opts...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skipped link entries")
}

func TestDownloadRuntimeArchiveLimits(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)

	cacheDir := t.TempDir()
	cfg := bootstrapConfig{
		cacheDir:        cacheDir,
		httpClient:      server.Client(),
		maxArchiveBytes: 1024,
	}

	_, _, err := downloadRuntimeArchive(context.Background(), cfg, server.URL+"/archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1024")

	_, _, err = downloadRuntimeArchive(context.Background(), cfg, server.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")

	leftovers, err := filepath.Glob(filepath.Join(cacheDir, "onnxruntime-*.archive"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "failed downloads must not leave temp files behind")
}

func TestExtractArchiveFileFormats(t *testing.T) {
	entries := []archiveEntry{
		{name: "pkg/lib/libonnxruntime.so", content: "library"},
		{name: "pkg/include/api.h", content: "header"},
	}

	for name, payload := range map[string][]byte{"tgz": buildTGZ(t, entries), "zip": buildZIP(t, entries)} {
		t.Run(name, func(t *testing.T) {
			archive := filepath.Join(t.TempDir(), "archive."+name)
			require.NoError(t, os.WriteFile(archive, payload, 0o644))

			dest := t.TempDir()
			result, err := extractArchiveFile(archive, dest, name, 1<<20)
			require.NoError(t, err)
			assert.Equal(t, 2, result.files)
			assert.FileExists(t, filepath.Join(dest, "pkg", "lib", "libonnxruntime.so"))

			_, err = extractArchiveFile(archive, t.TempDir(), name, 4)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "size limit")
		})
	}
}

func TestSecureArchiveJoin(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		entry   string
		wantErr bool
	}{
		{entry: "pkg/lib/libonnxruntime.so"},
		{entry: "./pkg/include/api.h"},
		{entry: "", wantErr: true},
		{entry: ".", wantErr: true},
		{entry: "/etc/passwd", wantErr: true},
		{entry: "C:/Windows/system32", wantErr: true},
		{entry: "../escape", wantErr: true},
		{entry: "pkg/../../escape", wantErr: true},
		{entry: "pkg\\..\\..\\escape", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.entry, func(t *testing.T) {
			got, err := secureArchiveJoin(base, tc.entry)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			rel, err := filepath.Rel(base, got)
			require.NoError(t, err)
			assert.NotContains(t, rel, "..")
		})
	}
}

func TestResolveExtractedLibraryPath(t *testing.T) {
	artifact := runtimeArtifact{primaryLibrary: "libonnxruntime.so", libraryGlob: "libonnxruntime.so*"}

	t.Run("missing", func(t *testing.T) {
		installDir := t.TempDir()
		_, err := resolveExtractedLibraryPath(installDir, artifact)
		assert.ErrorIs(t, err, errSharedLibraryNotFound)
	})

	t.Run("only empty candidates", func(t *testing.T) {
		installDir := t.TempDir()
		libDir := filepath.Join(installDir, "lib")
		require.NoError(t, os.MkdirAll(libDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(libDir, "libonnxruntime.so"), nil, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(libDir, "libonnxruntime.so.1"), nil, 0o644))

		_, err := resolveExtractedLibraryPath(installDir, artifact)
		require.Error(t, err)
		assert.False(t, errors.Is(err, errSharedLibraryNotFound))
		assert.Contains(t, err.Error(), "none are valid")
	})

	t.Run("versioned fallback", func(t *testing.T) {
		installDir := t.TempDir()
		libDir := filepath.Join(installDir, "lib")
		require.NoError(t, os.MkdirAll(libDir, 0o755))
		versioned := filepath.Join(libDir, "libonnxruntime.so.1.23.1")
		require.NoError(t, os.WriteFile(versioned, []byte("lib"), 0o644))

		got, err := resolveExtractedLibraryPath(installDir, artifact)
		require.NoError(t, err)
		assert.Equal(t, versioned, got)
	})
}

func TestBootstrapOptionValidation(t *testing.T) {
	var cfg bootstrapConfig
	assert.Error(t, WithBootstrapVersion("  ")(&cfg))
	assert.Error(t, WithBootstrapLibraryPath(" ")(&cfg))
	assert.Error(t, WithBootstrapCacheDir("")(&cfg))
	assert.Error(t, WithBootstrapExpectedSHA256("abc")(&cfg))
	assert.Error(t, WithBootstrapExpectedSHA256("zz"+string(bytes.Repeat([]byte("0"), 62)))(&cfg))
	assert.Error(t, WithBootstrapLockTimeout(0)(&cfg))
	assert.Error(t, WithBootstrapLogger(nil)(&cfg))
	assert.Error(t, withBootstrapBaseURL(" ")(&cfg))
	assert.Error(t, withBootstrapHTTPClient(nil)(&cfg))

	upper := "ABCDEF0000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, WithBootstrapExpectedSHA256(upper)(&cfg))
	assert.Equal(t, "abcdef0000000000000000000000000000000000000000000000000000000000", cfg.expectedSHA256)
}

func TestResolveBootstrapConfigEnv(t *testing.T) {
	clearBootstrapEnv(t)
	cacheDir := t.TempDir()
	t.Setenv(EnvCacheDir, cacheDir)
	t.Setenv(EnvVersion, "v1.20.0")
	t.Setenv(EnvDisableDownload, "yes")

	cfg, err := resolveBootstrapConfig()
	require.NoError(t, err)
	assert.Equal(t, cacheDir, cfg.cacheDir)
	assert.Equal(t, "1.20.0", cfg.version)
	assert.True(t, cfg.disableDownload)

	cfg, err = resolveBootstrapConfig(WithBootstrapVersion("1.21.0"), WithBootstrapDisableDownload(false))
	require.NoError(t, err)
	assert.Equal(t, "1.21.0", cfg.version, "options override the environment")
	assert.False(t, cfg.disableDownload)

	t.Setenv(EnvDisableDownload, "maybe")
	_, err = resolveBootstrapConfig()
	require.Error(t, err)
}

func TestNormalizeRuntimeVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1.23.1", want: "1.23.1"},
		{in: "v1.23.1", want: "1.23.1"},
		{in: " 1.22.0 ", want: "1.22.0"},
		{in: "", wantErr: true},
		{in: "1.23", wantErr: true},
		{in: "1.x.0", wantErr: true},
		{in: "1.23.1-rc1", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := normalizeRuntimeVersion(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWithProcessFileLockTimesOut(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "runtime.lock")
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- withProcessFileLock(context.Background(), lockPath, time.Second, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := withProcessFileLock(context.Background(), lockPath, 100*time.Millisecond, func() error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	close(release)
	require.NoError(t, <-done)

	require.Error(t, withProcessFileLock(context.Background(), lockPath, time.Second, nil))
}
