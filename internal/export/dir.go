package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirSaver writes parts into a local directory, creating it on first use.
type DirSaver struct {
	Dir string
}

// Save implements Saver.
func (s DirSaver) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}
	if filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid part filename %q", filename)
	}

	if err := os.MkdirAll(s.Dir, 0750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	path := filepath.Join(s.Dir, filename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write part: %w", err)
	}
	return path, nil
}

var _ Saver = DirSaver{}
