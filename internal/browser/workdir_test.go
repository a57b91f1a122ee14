package browser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveWorkingPath_RejectsTraversal(t *testing.T) {
	root := "/data/files/run-1"

	abs, err := resolveWorkingPath(root, "notes/out.txt")
	require.NoError(t, err)
	require.Equal(t, "/data/files/run-1/notes/out.txt", abs)

	_, err = resolveWorkingPath(root, "../../etc/passwd")
	require.Error(t, err)

	_, err = resolveWorkingPath(root, "/../../etc/passwd")
	require.Error(t, err)
}

func TestTruncate_RespectsLimit(t *testing.T) {
	small := "short value"
	require.Equal(t, small, truncate(small))

	big := make([]byte, maxJSResultBytes+100)
	for i := range big {
		big[i] = 'a'
	}
	out := truncate(string(big))
	require.Contains(t, out, truncationMarker)
	require.True(t, len(out) < len(big)+len(truncationMarker)+1)
}

func TestNormalizeWhitespace(t *testing.T) {
	require.Equal(t, "a b c", normalizeWhitespace("a\n\n  b\t\tc  "))
}
