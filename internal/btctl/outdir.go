package btctl

import (
	"os"
	"path/filepath"
	"strings"
)

func ensureParentDir(path string) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil
	}
	dir := filepath.Dir(p)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// createOutput opens path for writing, creating parent directories. An
// empty path means stdout.
func createOutput(path string) (*os.File, func() error, error) {
	if strings.TrimSpace(path) == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	if err := ensureParentDir(path); err != nil {
		return nil, nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
