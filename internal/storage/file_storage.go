package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SavedFile describes a stored upload
type SavedFile struct {
	Path      string // path on disk
	PublicURL string // URL the asset is served under
}

// FileStorage defines the interface for storing uploaded template assets
type FileStorage interface {
	// SaveUpload stores content under a unique name derived from filename
	SaveUpload(filename string, content []byte) (SavedFile, error)

	// Read returns the content of a previously stored file
	Read(path string) ([]byte, error)

	// Remove deletes a previously stored file
	Remove(path string) error
}

// LocalFileStorage implements FileStorage on the local filesystem
type LocalFileStorage struct {
	baseDir      string
	publicPrefix string
	logger       *zap.Logger
}

// NewLocalFileStorage creates a new LocalFileStorage
func NewLocalFileStorage(baseDir, publicPrefix string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir:      baseDir,
		publicPrefix: publicPrefix,
		logger:       logger,
	}
}

// SaveUpload stores content under a unique name so repeated uploads of the
// same file never collide. The original name is kept as a prefix for
// operator readability; any path components are stripped.
func (s *LocalFileStorage) SaveUpload(filename string, content []byte) (SavedFile, error) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	unique := fmt.Sprintf("%s_%s%s", stem, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	fullPath := filepath.Join(s.baseDir, unique)

	if err := s.validatePath(fullPath); err != nil {
		return SavedFile{}, err
	}

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		s.logger.Error("Failed to create upload directory",
			zap.String("dir", s.baseDir),
			zap.Error(err))
		return SavedFile{}, fmt.Errorf("failed to create upload directory: %w", err)
	}

	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write upload",
			zap.String("path", fullPath),
			zap.Error(err))
		return SavedFile{}, fmt.Errorf("failed to write upload: %w", err)
	}

	s.logger.Debug("Upload saved",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))

	return SavedFile{
		Path:      fullPath,
		PublicURL: s.publicPrefix + unique,
	}, nil
}

// Read returns the content of a stored file after path validation
func (s *LocalFileStorage) Read(path string) ([]byte, error) {
	if err := s.validatePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file: %w", err)
	}
	return data, nil
}

// Remove deletes a stored file after path validation. Removing a file that
// is already gone is not an error.
func (s *LocalFileStorage) Remove(path string) error {
	if err := s.validatePath(path); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("Failed to remove stored file",
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("failed to remove stored file: %w", err)
	}
	return nil
}

// validatePath checks that the path stays within baseDir
func (s *LocalFileStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) && absPath != absBase {
		return fmt.Errorf("path escapes base directory: %s", fullPath)
	}
	return nil
}
