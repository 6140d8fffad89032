// Package buildinfo holds version and debug-mode information shared across
// patchkit's packages and CLIs.
package buildinfo

import "fmt"

const (
	// VersionMajor represents the current major version of patchkit.
	VersionMajor = 0
	// VersionMinor represents the current minor version of patchkit.
	VersionMinor = 1
	// VersionPatch represents the current patch version of patchkit.
	VersionPatch = 0
)

// Version is the human-readable version string, computed once at package
// initialization.
var Version string

func init() {
	Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
