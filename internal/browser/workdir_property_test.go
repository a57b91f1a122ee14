package browser

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: resolveWorkingPath never returns a path outside root, for any
// relative path string a tool call might supply.
func TestProperty_ResolveWorkingPathNeverEscapesRoot(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	root := "/data/files/run-1"

	properties.Property("resolved path stays within root or resolution fails", prop.ForAll(
		func(segments []string) bool {
			rel := strings.Join(segments, "/")
			abs, err := resolveWorkingPath(root, rel)
			if err != nil {
				return true
			}
			return abs == root || strings.HasPrefix(abs, root+"/")
		},
		gen.SliceOf(gen.OneConstOf("..", ".", "a", "b", "etc", "passwd", "notes.txt", "")),
	))

	properties.TestingRun(t)
}
