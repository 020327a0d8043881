// Package local implements a local filesystem result sink.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/intel-collector/internal/collector"
	"github.com/JakeFAU/intel-collector/internal/sink"
)

// Config captures the parameters for the local filesystem sink.
type Config struct {
	// BaseDir is the root directory where results will be written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// ResultSink writes each collection result as a JSON file.
type ResultSink struct {
	baseDir string
}

// New creates a filesystem-backed result sink.
func New(cfg Config) (*ResultSink, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &ResultSink{baseDir: cfg.BaseDir}, nil
}

// Store implements collector.ResultSink. Writing the same result twice
// overwrites the same file.
func (s *ResultSink) Store(_ context.Context, result collector.CollectionResult) error {
	key, err := sink.ObjectKey(result)
	if err != nil {
		return err
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	data, err := sink.Encode(result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

// Path returns where a result is (or would be) stored.
func (s *ResultSink) Path(result collector.CollectionResult) (string, error) {
	key, err := sink.ObjectKey(result)
	if err != nil {
		return "", err
	}
	return s.resolve(key)
}

func (s *ResultSink) resolve(key string) (string, error) {
	cleanBase := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(cleanBase, filepath.FromSlash(key)))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}
