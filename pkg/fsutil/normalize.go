package fsutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// tildeExpand performs shell-style tilde expansion of paths beginning with
// ~/ or ~<username>/.
func tildeExpand(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	separatorIndex := -1
	for i := 0; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			separatorIndex = i
			break
		}
	}

	var username, remaining string
	if separatorIndex > 0 {
		username = path[1:separatorIndex]
		remaining = path[separatorIndex+1:]
	} else {
		username = path[1:]
	}

	var home string
	if username == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("unable to compute home directory: %w", err)
		}
		home = h
	} else {
		u, err := user.Lookup(username)
		if err != nil {
			return "", fmt.Errorf("unable to look up user %q: %w", username, err)
		}
		home = u.HomeDir
	}

	return filepath.Join(home, remaining), nil
}

// Normalize expands a leading tilde, converts path to an absolute path, and
// cleans the result. It's used to resolve the -root flag and any relative
// paths supplied on the command line before they're treated as the
// synchronization root.
func Normalize(path string) (string, error) {
	path, err := tildeExpand(path)
	if err != nil {
		return "", fmt.Errorf("unable to perform tilde expansion: %w", err)
	}

	path, err = filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("unable to compute absolute path: %w", err)
	}

	return path, nil
}
