package version

import "fmt"

// Build metadata, injected via -ldflags "-X moverwatch/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats build metadata for the version command and startup logs.
func String() string {
	return fmt.Sprintf("moverwatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}
