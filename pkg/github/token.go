package github

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ReadTokenFile returns the token stored in path. A missing file yields an
// empty token and no error.
func ReadTokenFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read github token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
