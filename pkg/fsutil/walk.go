package fsutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ToSlash normalizes a native path separator to '/'. It's a thin wrapper
// around filepath.ToSlash, kept here so every caller that needs to turn an
// OS path into a manifest-relative path goes through one obviously-named
// function rather than reaching for filepath directly.
func ToSlash(path string) string {
	return filepath.ToSlash(path)
}

// WalkRegularFiles walks root and invokes fn once for every regular file
// found, with a path relative to root using '/' separators regardless of
// platform, so manifest keys are identical across operating systems.
// Symbolic links, directories, and other non-regular files are silently
// skipped: the manifest tracks regular file content only.
func WalkRegularFiles(root string, fn func(relativePath string, info fs.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("unable to walk %q: %w", path, err)
		}
		if path == root {
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("unable to compute relative path for %q: %w", path, err)
		}
		relative = ToSlash(relative)

		return fn(relative, info)
	})
}

// JoinRelative joins a manifest-relative ('/'-separated) path onto root
// using the host's native separator, and rejects any path that would escape
// root -- the filesystem-side half of the validation pkg/manifest performs
// on decode, applied again here since paths may also reach this function
// via pkg/hashcache's lazy digestion of locally supplied paths.
func JoinRelative(root, relativePath string) (string, error) {
	if strings.HasPrefix(relativePath, "/") {
		return "", fmt.Errorf("path %q is absolute", relativePath)
	}
	for _, segment := range strings.Split(relativePath, "/") {
		if segment == ".." {
			return "", fmt.Errorf("path %q contains a \"..\" segment", relativePath)
		}
	}
	return filepath.Join(root, filepath.FromSlash(relativePath)), nil
}
