package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NormalizeTarget cleans path, appends ext when it is missing, and rejects
// paths that already exist.
func NormalizeTarget(path, ext string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrUserCancelled)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if !strings.EqualFold(filepath.Ext(abs), ext) {
		abs += ext
	}
	if _, err := os.Stat(abs); err == nil {
		return "", fmt.Errorf("%w: %s", ErrTargetExists, abs)
	}
	return abs, nil
}

// SuggestDestination proposes a native file next to src. If that name is
// taken, a numeric suffix is added.
func SuggestDestination(src, ext string) string {
	dir := filepath.Dir(src)
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))

	candidate := filepath.Join(dir, base+ext)
	for i := 1; i < 100; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
	return candidate
}
