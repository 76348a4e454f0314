package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidName is returned when an object or file name would escape its bucket.
var ErrInvalidName = errors.New("invalid object name")

// Compile-time checks.
var (
	_ ObjectStore = (*LocalStore)(nil)
	_ TempStore   = (*LocalStore)(nil)
)

// LocalStore implements TempStore and ObjectStore on local disk.
// Published objects are written under <root>/<bucket>/ and served by the
// HTTP server at <publicHost>/<bucket>/<name>.
type LocalStore struct {
	root       string
	publicHost string
}

// NewLocalStore creates a new LocalStore rooted at root.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStore(root, publicHost string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "videoforge")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &LocalStore{root: root, publicHost: strings.TrimRight(publicHost, "/")}, nil
}

// Root returns the output directory path.
func (s *LocalStore) Root() string {
	return s.root
}

// Path returns the local path for kind/name.
func (s *LocalStore) Path(kind, name string) string {
	return filepath.Join(s.root, kind, name)
}

// URL returns the public URL for bucket/name.
func (s *LocalStore) URL(bucket, name string) string {
	return s.publicHost + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(name)
}

// SaveTemp writes data to <root>/<kind>/<name> and returns the file path.
// A partially written file is removed on error.
func (s *LocalStore) SaveTemp(ctx context.Context, kind, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := checkName(kind); err != nil {
		return "", err
	}
	if err := checkName(name); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, kind)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create %s directory: %w", kind, err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path) // #nosec G304 - name is checked above
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close file: %w", err)
	}

	return path, nil
}

// CleanupTemp removes the specified files.
// It continues cleanup even if some files fail to delete,
// returning all errors encountered. Missing files are ignored.
func (s *LocalStore) CleanupTemp(ctx context.Context, paths []string) error {
	var errs []error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove file %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// Upload stores body under <root>/<bucket>/<name> and returns the public URL.
func (s *LocalStore) Upload(ctx context.Context, bucket, name string, body io.Reader, _ string) (string, error) {
	if _, err := s.SaveTemp(ctx, bucket, name, body); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, name, err)
	}
	return s.URL(bucket, name), nil
}

// Remove deletes <root>/<bucket>/<name> for each name.
func (s *LocalStore) Remove(ctx context.Context, bucket string, names []string) error {
	paths := make([]string, 0, len(names))
	for _, n := range names {
		if err := checkName(n); err != nil {
			return err
		}
		paths = append(paths, s.Path(bucket, n))
	}
	return s.CleanupTemp(ctx, paths)
}

// RemoveStale deletes regular files in <root>/<kind> last modified before
// cutoff and returns the removed paths. A missing directory is not an error.
// Removal continues past individual failures, which are joined in the error.
func (s *LocalStore) RemoveStale(ctx context.Context, kind string, cutoff time.Time) ([]string, error) {
	if err := checkName(kind); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s directory: %w", kind, err)
	}

	var removed []string
	var errs []error
	for _, entry := range entries {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("context cancelled: %w", ctx.Err()))
			break
		}
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("stat %s: %w", path, err))
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove file %s: %w", path, err))
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
