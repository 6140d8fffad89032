// Package config implements the optional TOML configuration file that
// supplies defaults for cmd/patchkit's flags: a small struct loaded
// through pkg/encoding's LoadAndUnmarshalTOML helper.
package config

import (
	"os"

	"github.com/patchkit-io/patchkit/pkg/encoding"
)

// Configuration holds the subset of cmd/patchkit's flags that can be
// supplied via a TOML file instead of the command line.
type Configuration struct {
	Root         string `toml:"root"`
	ManifestURL  string `toml:"manifestUrl"`
	ArchiveURL   string `toml:"archiveUrl"`
	ManifestName string `toml:"manifestName"`
	SkiplistName string `toml:"skiplistName"`
}

// Load reads and decodes the TOML configuration file at path. A
// non-existent path is not an error -- it yields a zero-value
// Configuration, since every field it could supply also has a command-line
// equivalent.
func Load(path string) (*Configuration, error) {
	config := &Configuration{}
	if err := encoding.LoadAndUnmarshalTOML(path, config); err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}
	return config, nil
}

// ApplyDefaults overwrites every zero-valued field of target with the
// corresponding field from c, leaving flags explicitly set on the command
// line untouched.
func (c *Configuration) ApplyDefaults(target *Configuration) {
	if target.Root == "" {
		target.Root = c.Root
	}
	if target.ManifestURL == "" {
		target.ManifestURL = c.ManifestURL
	}
	if target.ArchiveURL == "" {
		target.ArchiveURL = c.ArchiveURL
	}
	if target.ManifestName == "" {
		target.ManifestName = c.ManifestName
	}
	if target.SkiplistName == "" {
		target.SkiplistName = c.SkiplistName
	}
}
