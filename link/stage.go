package link

import (
	"fmt"
	"os"
)

// Stage writes image to path and marks it executable (spec.md §4.G).
// The file is created (or truncated) with restrictive permissions
// first, then chmod'd to 0o755 once the contents are flushed, so a
// reader never observes a partially-written executable file.
func Stage(path string, image []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if _, err := f.Write(image); err != nil {
		f.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("marking output file executable: %w", err)
	}
	return nil
}
