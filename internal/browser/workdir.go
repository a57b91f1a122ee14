package browser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/tasker/types"
)

// resolveWorkingPath joins rel onto root and rejects any path that would
// escape it — spec §9: "path traversal must be rejected" for the per-run
// file tools.
func resolveWorkingPath(root, rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	abs := filepath.Join(root, cleaned)
	rootClean := filepath.Clean(root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", types.NewError(types.ErrInvalidInput, "path escapes working directory")
	}
	return abs, nil
}

// EnsureWorkingDir creates <dataDir>/files/<runID>, the per-run root every
// file tool is scoped to.
func EnsureWorkingDir(dataDir, runID string) (string, error) {
	dir := filepath.Join(dataDir, "files", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create working dir: %w", err)
	}
	return dir, nil
}
