package bundle

import (
	"fmt"
	"os"
)

// PlaceholderRoster is written verbatim when no roster file exists at the
// configured source path. Lines are Name,NetID pairs.
const PlaceholderRoster = "Member One,netid01\n" +
	"Member Two,netid02\n" +
	"Member Three,netid03\n"

// MaterializeRoster copies the roster file at src to dest byte-for-byte.
// A missing source is a soft failure: the fixed placeholder is written
// instead and placeholder=true is returned so the caller can warn.
func MaterializeRoster(src, dest string) (placeholder bool, err error) {
	data, err := os.ReadFile(src)
	if err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("bundle: read roster %s: %w", src, err)
		}
		data = []byte(PlaceholderRoster)
		placeholder = true
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return placeholder, fmt.Errorf("bundle: write roster %s: %w", dest, err)
	}
	return placeholder, nil
}
