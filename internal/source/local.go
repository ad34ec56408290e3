package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore serves paths on a filesystem shared with the transcription engine.
type LocalStore struct {
	uploadDir string
}

func NewLocalStore(uploadDir string) *LocalStore {
	return &LocalStore{uploadDir: uploadDir}
}

func (s *LocalStore) Exists(_ context.Context, ref string) (bool, error) {
	info, err := os.Stat(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	return !info.IsDir(), nil
}

func (s *LocalStore) Locate(_ context.Context, ref string) (string, error) {
	return ref, nil
}

func (s *LocalStore) Remove(_ context.Context, ref string) error {
	if err := os.Remove(ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", ref, err)
	}
	return nil
}

func (s *LocalStore) Save(_ context.Context, name string, r io.Reader, _ int64) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(s.uploadDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
