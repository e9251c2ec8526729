package files

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gastos/internal/ports"
)

// Local is the ports.FileAccess for handles that are plain filesystem paths.
type Local struct{}

var _ ports.FileAccess = Local{}

func (Local) OpenForRead(_ context.Context, handle string) (io.ReadCloser, error) {
	f, err := os.Open(handle)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", handle, err)
	}
	return f, nil
}

// OpenForWrite truncates destination, creating parent directories.
func (Local) OpenForWrite(_ context.Context, destination string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", destination, err)
	}
	f, err := os.Create(destination)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", destination, err)
	}
	return f, nil
}

func (Local) DisplayName(handle string) string {
	return filepath.Base(handle)
}
