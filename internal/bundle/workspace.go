package bundle

import (
	"fmt"
	"os"
	"path/filepath"
)

// Reset removes any previous bundle directory and archive, then recreates an
// empty bundle directory. Removal of prior artifacts is deliberate and
// irreversible; callers rely on the next stages repopulating everything.
// Reset is idempotent: nothing existing beforehand is not an error.
func Reset(bundleDir, archivePath string) error {
	clean := filepath.Clean(bundleDir)
	if clean == "" || clean == "." || clean == string(filepath.Separator) {
		return fmt.Errorf("bundle: refusing to reset %q", bundleDir)
	}
	if err := os.RemoveAll(clean); err != nil {
		return fmt.Errorf("bundle: remove %s: %w", clean, err)
	}
	if archivePath != "" {
		if err := os.RemoveAll(archivePath); err != nil {
			return fmt.Errorf("bundle: remove %s: %w", archivePath, err)
		}
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return fmt.Errorf("bundle: create %s: %w", clean, err)
	}
	return nil
}
