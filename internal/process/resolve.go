package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrExecutableNotFound is returned when none of the candidate paths exist.
var ErrExecutableNotFound = errors.New("executable not found")

// ResolveExecutable returns the first candidate that exists as a regular file.
// Candidates may start with ~ and may contain environment variables.
func ResolveExecutable(candidates []string) (string, error) {
	for _, candidate := range candidates {
		path := expandPath(strings.TrimSpace(candidate))
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrExecutableNotFound, strings.Join(candidates, ", "))
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return os.ExpandEnv(path)
}
