// Package version holds build information, set with -ldflags -X.
package version

import "fmt"

var (
	Version   = "0.1.0"
	BuildDate = "2026-10-19"
	Commit    = ""
)

func GetVersion() string {
	return Version
}

func GetBuildDate() string {
	return BuildDate
}

// String formats the build information for display.
func String() string {
	if Commit == "" {
		return fmt.Sprintf("tabdelta %s (built %s)", Version, BuildDate)
	}
	return fmt.Sprintf("tabdelta %s (%s, built %s)", Version, Commit, BuildDate)
}
