package buildinfo

import "os"

// DebugEnabled controls whether or not debug-level logging is enabled. It is
// set automatically based on the PATCHKIT_DEBUG environment variable.
var DebugEnabled bool

func init() {
	DebugEnabled = os.Getenv("PATCHKIT_DEBUG") == "1"
}
