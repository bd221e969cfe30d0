package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStorage keeps artifacts as <dir>/<lead_id>.pdf. A file appears under
// its final name only once fully written.
type LocalStorage struct {
	dir     string
	baseURL string
}

var _ ArtifactStorage = (*LocalStorage)(nil)

func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: baseURL}, nil
}

func (s *LocalStorage) path(leadID string) string {
	return filepath.Join(s.dir, leadID+".pdf")
}

func (s *LocalStorage) Put(ctx context.Context, leadID string, data []byte) (string, error) {
	if !ValidLeadID(leadID) {
		return "", ErrInvalidLeadID
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	url := ArtifactURL(s.baseURL, leadID)
	final := s.path(leadID)

	switch ok, err := s.sameContent(final, data); {
	case err != nil:
		return "", err
	case ok:
		return url, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	// Link fails if the name exists, so a concurrent writer can never be overwritten.
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if ok, cmpErr := s.sameContent(final, data); cmpErr != nil {
				return "", cmpErr
			} else if ok {
				return url, nil
			}
		}
		return "", fmt.Errorf("failed to publish artifact: %w", err)
	}
	return url, nil
}

// sameContent returns (true, nil) when path holds exactly data,
// ErrArtifactConflict when it holds something else and (false, nil) when absent
func (s *LocalStorage) sameContent(path string, data []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read existing artifact: %w", err)
	}
	if !bytes.Equal(existing, data) {
		return false, ErrArtifactConflict
	}
	return true, nil
}

func (s *LocalStorage) Get(ctx context.Context, leadID string) ([]byte, error) {
	if !ValidLeadID(leadID) {
		return nil, ErrInvalidLeadID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(leadID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
