package browser

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestProperty_TruncateNeverExceedsBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		length := rapid.IntRange(0, maxJSResultBytes*2).Draw(rt, "length")
		s := strings.Repeat("x", length)

		out := truncate(s)

		if length <= maxJSResultBytes {
			if out != s {
				rt.Fatalf("input within bound should be returned unchanged, got len %d want %d", len(out), len(s))
			}
			return
		}
		if !strings.HasSuffix(out, truncationMarker) {
			rt.Fatalf("oversized input should end with the truncation marker")
		}
		if len(out) != maxJSResultBytes+len(truncationMarker) {
			rt.Fatalf("truncated output length = %d, want %d", len(out), maxJSResultBytes+len(truncationMarker))
		}
	})
}
