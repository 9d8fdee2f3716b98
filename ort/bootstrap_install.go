package ort

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// extractResult summarises an archive extraction.
type extractResult struct {
	files        int
	bytes        int64
	skippedLinks []string
}

func installRuntime(ctx context.Context, cfg bootstrapConfig, artifact runtimeArtifact, installDir string) error {
	url := artifact.downloadURL(cfg.baseURL, cfg.version)
	cfg.logger.Info("downloading ONNX Runtime", zap.String("url", url))

	archivePath, checksum, err := downloadRuntimeArchive(ctx, cfg, url)
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(archivePath)
	}()

	if cfg.expectedSHA256 != "" && checksum != cfg.expectedSHA256 {
		return fmt.Errorf("download checksum mismatch: expected %s, got %s", cfg.expectedSHA256, checksum)
	}

	stagingRoot := fmt.Sprintf("%s.staging-%d", installDir, time.Now().UnixNano())
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create bootstrap staging directory %q: %w", stagingRoot, err)
	}
	defer func() {
		_ = os.RemoveAll(stagingRoot)
	}()

	result, err := extractArchiveFile(archivePath, stagingRoot, artifact.archiveExtension, cfg.maxExtractedBytes)
	if err != nil {
		return err
	}

	// Release archives wrap everything in a directory named after the archive.
	extracted := filepath.Join(stagingRoot, artifact.archiveName(cfg.version))
	if info, statErr := os.Stat(extracted); statErr != nil || !info.IsDir() {
		extracted = stagingRoot
	}

	if _, err := resolveExtractedLibraryPath(extracted, artifact); err != nil {
		if !errors.Is(err, errSharedLibraryNotFound) {
			return err
		}
		msg := fmt.Sprintf("downloaded archive did not contain expected shared library in %q", filepath.Join(extracted, "lib"))
		if len(result.skippedLinks) > 0 {
			msg += fmt.Sprintf(" (skipped link entries: %s)", strings.Join(result.skippedLinks, ", "))
		}
		return errors.New(msg)
	}

	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove previous ONNX Runtime install at %q: %w", installDir, err)
	}
	if err := os.Rename(extracted, installDir); err != nil {
		return fmt.Errorf("failed to install ONNX Runtime to %q: %w", installDir, err)
	}

	cfg.logger.Debug("ONNX Runtime extracted",
		zap.String("dir", installDir), zap.Int("files", result.files), zap.Int64("bytes", result.bytes))
	return nil
}

func downloadRuntimeArchive(ctx context.Context, cfg bootstrapConfig, url string) (archivePath string, checksum string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create download request for %q: %w", url, err)
	}

	resp, err := cfg.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if text := strings.TrimSpace(string(snippet)); text != "" {
			return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d: %s", url, resp.StatusCode, text)
		}
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d", url, resp.StatusCode)
	}
	if resp.ContentLength > cfg.maxArchiveBytes {
		return "", "", fmt.Errorf("ONNX Runtime archive is %d bytes, limit is %d", resp.ContentLength, cfg.maxArchiveBytes)
	}

	if err := os.MkdirAll(cfg.cacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory %q: %w", cfg.cacheDir, err)
	}
	tmpFile, err := os.CreateTemp(cfg.cacheDir, "onnxruntime-*.archive")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary archive file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if closeErr := tmpFile.Close(); err == nil && closeErr != nil {
			err = closeErr
			archivePath, checksum = "", ""
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmpFile, hasher), io.LimitReader(resp.Body, cfg.maxArchiveBytes+1))
	if err != nil {
		return "", "", fmt.Errorf("failed to write ONNX Runtime archive to %q: %w", tmpPath, err)
	}
	if written == 0 {
		return "", "", fmt.Errorf("downloaded ONNX Runtime archive is empty")
	}
	if written > cfg.maxArchiveBytes {
		return "", "", fmt.Errorf("ONNX Runtime archive exceeds the %d byte limit", cfg.maxArchiveBytes)
	}

	return tmpPath, hex.EncodeToString(hasher.Sum(nil)), nil
}

func extractArchiveFile(archivePath, destinationDir, extension string, maxBytes int64) (extractResult, error) {
	switch extension {
	case "tgz":
		return extractTGZArchive(archivePath, destinationDir, maxBytes)
	case "zip":
		return extractZIPArchive(archivePath, destinationDir, maxBytes)
	default:
		return extractResult{}, fmt.Errorf("unsupported archive extension %q", extension)
	}
}

func extractTGZArchive(archivePath, destinationDir string, maxBytes int64) (extractResult, error) {
	var result extractResult

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return result, fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = archiveFile.Close()
	}()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return result, fmt.Errorf("failed to read gzip archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = gzipReader.Close()
	}()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to read tar entry from %q: %w", archivePath, err)
		}

		targetPath, err := secureArchiveJoin(destinationDir, header.Name)
		if err != nil {
			return result, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return result, fmt.Errorf("failed to create directory %q: %w", targetPath, err)
			}
		case tar.TypeReg:
			n, err := copyExtractedFile(targetPath, tarReader, header.FileInfo().Mode().Perm(), maxBytes-result.bytes)
			if err != nil {
				return result, err
			}
			result.files++
			result.bytes += n
		case tar.TypeSymlink, tar.TypeLink:
			// Links are never followed; release archives ship the real library file.
			result.skippedLinks = append(result.skippedLinks, header.Name)
		}
	}

	if result.files == 0 {
		return result, fmt.Errorf("archive %q did not contain regular files", archivePath)
	}
	return result, nil
}

func extractZIPArchive(archivePath, destinationDir string, maxBytes int64) (extractResult, error) {
	var result extractResult

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return result, fmt.Errorf("failed to open ZIP archive %q: %w", archivePath, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	for _, entry := range reader.File {
		targetPath, err := secureArchiveJoin(destinationDir, entry.Name)
		if err != nil {
			return result, err
		}

		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return result, fmt.Errorf("failed to create directory %q: %w", targetPath, err)
			}
			continue
		case mode&os.ModeSymlink != 0:
			result.skippedLinks = append(result.skippedLinks, entry.Name)
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return result, fmt.Errorf("failed to open ZIP entry %q: %w", entry.Name, err)
		}
		n, copyErr := copyExtractedFile(targetPath, rc, mode.Perm(), maxBytes-result.bytes)
		closeErr := rc.Close()
		if copyErr != nil {
			return result, copyErr
		}
		if closeErr != nil {
			return result, fmt.Errorf("failed to close ZIP entry %q: %w", entry.Name, closeErr)
		}
		result.files++
		result.bytes += n
	}

	if result.files == 0 {
		return result, fmt.Errorf("archive %q did not contain regular files", archivePath)
	}
	return result, nil
}

// copyExtractedFile writes at most budget bytes from src to targetPath.
func copyExtractedFile(targetPath string, src io.Reader, mode os.FileMode, budget int64) (int64, error) {
	if budget <= 0 {
		return 0, fmt.Errorf("archive exceeds extraction size limit at %q", targetPath)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory for %q: %w", targetPath, err)
	}
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to create extracted file %q: %w", targetPath, err)
	}

	n, err := io.Copy(out, io.LimitReader(src, budget+1))
	closeErr := out.Close()
	if err != nil {
		return n, fmt.Errorf("failed to extract file %q: %w", targetPath, err)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to close extracted file %q: %w", targetPath, closeErr)
	}
	if n > budget {
		return n, fmt.Errorf("archive exceeds extraction size limit at %q", targetPath)
	}
	return n, nil
}

// secureArchiveJoin joins an archive entry name onto baseDir, rejecting
// absolute paths, drive letters and any entry that escapes baseDir.
func secureArchiveJoin(baseDir, entryName string) (string, error) {
	name := strings.ReplaceAll(strings.TrimSpace(entryName), "\\", "/")
	if name == "" {
		return "", fmt.Errorf("invalid empty archive entry path")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid absolute archive entry path %q", entryName)
	}
	if len(name) >= 2 && name[1] == ':' && isASCIILetter(name[0]) {
		return "", fmt.Errorf("invalid archive entry path with drive letter %q", entryName)
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." {
		return "", fmt.Errorf("invalid archive entry path %q", entryName)
	}

	target := filepath.Join(baseDir, cleaned)
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve archive path %q: %w", entryName, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe archive entry path %q", entryName)
	}
	return target, nil
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
