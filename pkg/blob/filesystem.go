package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FilesystemStore keeps objects as files under a root directory. It is the
// default driver for single-node deployments; it cannot mint presigned URLs,
// so uploads against it are always proxied through the server.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

// path maps a key to a filesystem path, rejecting traversal outside root.
func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty blob key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put streams r to a temp file and renames it into place so readers never
// observe a partial object.
func (s *FilesystemStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	dst, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp := dst + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("creating temp object: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("writing object: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("closing temp object: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("renaming object into place: %w", err)
	}
	return n, nil
}

// Get opens the object at key for reading.
func (s *FilesystemStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

// Stat returns object metadata.
func (s *FilesystemStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("statting object: %w", err)
	}
	return &ObjectInfo{Key: key, SizeBytes: info.Size()}, nil
}

// Delete removes the object at key.
func (s *FilesystemStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing object: %w", err)
	}
	return nil
}

// PresignPut is unsupported on the filesystem driver.
func (s *FilesystemStore) PresignPut(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Provider names the driver.
func (s *FilesystemStore) Provider() string { return "filesystem" }

// HealthCheck verifies the root directory is writable.
func (s *FilesystemStore) HealthCheck(_ context.Context) error {
	probe := filepath.Join(s.root, ".healthcheck-"+uuid.NewString())
	if err := os.WriteFile(probe, nil, 0o640); err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	return os.Remove(probe)
}
