package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ProgressFunc receives the running byte count of a copy.
type ProgressFunc func(written int64)

// CopyWithContext copies src to dst, checking ctx between reads.
// progress may be nil.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, progress ProgressFunc) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
				if progress != nil {
					progress(written)
				}
			}
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// ParseDigest extracts the hex sha256 from a feed digest such as "sha256:ab12...".
// ok is false for empty digests and other algorithms.
func ParseDigest(digest string) (string, bool) {
	algo, sum, found := strings.Cut(strings.TrimSpace(digest), ":")
	if !found || !strings.EqualFold(algo, "sha256") || len(sum) != sha256.Size*2 {
		return "", false
	}
	return strings.ToLower(sum), true
}

// VerifyChecksum verifies the SHA256 checksum of a file
func VerifyChecksum(logger *logrus.Entry, filePath, expectedSHA256 string) error {
	logger.WithField("expected", expectedSHA256).Debug("Verifying checksum")

	file, err := os.Open(filePath)
	if err != nil {
		return FilesystemError("open artifact for checksum", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return FilesystemError("hash artifact", err)
	}

	actualSHA256 := hex.EncodeToString(hasher.Sum(nil))
	if actualSHA256 != expectedSHA256 {
		logger.WithFields(logrus.Fields{
			"expected": expectedSHA256,
			"actual":   actualSHA256,
		}).Error("Checksum mismatch")
		return NewError(ErrChecksum, "verify artifact", fmt.Errorf("expected %s, got %s", expectedSHA256, actualSHA256))
	}

	logger.Debug("Checksum verification successful")
	return nil
}

// MoveFile moves src to dst, replacing dst, and falls back to copy+sync when
// the rename crosses devices. The result carries mode perm.
func MoveFile(logger *logrus.Entry, src, dst string, perm os.FileMode) error {
	if err := os.Rename(src, dst); err == nil {
		return os.Chmod(dst, perm)
	}

	logger.WithFields(logrus.Fields{"src": src, "dst": dst}).Debug("Rename failed, falling back to copy")

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		dstFile.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	if err := dstFile.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination file: %w", err)
	}

	if err := os.Remove(src); err != nil {
		logger.WithError(err).Warning("Failed to remove transient file")
	}

	return os.Chmod(dst, perm)
}
