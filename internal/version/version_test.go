package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildMetadata(t *testing.T) {
	orig := Version
	t.Cleanup(func() { Version = orig })
	Version = "1.2.3"

	out := String()
	if !strings.Contains(out, "1.2.3") || !strings.Contains(out, Commit) {
		t.Fatalf("unexpected version string %q", out)
	}
}
