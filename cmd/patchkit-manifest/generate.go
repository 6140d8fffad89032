package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/patchkit-io/patchkit/pkg/fsutil"
	"github.com/patchkit-io/patchkit/pkg/hashcache"
)

func generateMain(_ *cobra.Command, _ []string) error {
	root, err := fsutil.Normalize(generateConfiguration.root)
	if err != nil {
		return errors.Wrap(err, "unable to resolve root directory")
	}

	out := generateConfiguration.out
	if out == "" {
		out = root
	} else if out, err = fsutil.Normalize(out); err != nil {
		return errors.Wrap(err, "unable to resolve output directory")
	}

	name := generateConfiguration.name
	if name == "" {
		name = "manifest.hash"
	}

	cache, err := hashcache.FromDirectory(root)
	if err != nil {
		return errors.Wrap(err, "unable to walk and digest root directory")
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return errors.Wrap(err, "unable to create output directory")
	}

	destination := filepath.Join(out, name)
	staging := destination + ".tmp"

	if err := cache.Write(staging); err != nil {
		return errors.Wrap(err, "unable to write manifest")
	}
	defer fsutil.RemoveIfExists(staging, nil)

	if err := os.Rename(staging, destination); err != nil {
		return errors.Wrap(err, "unable to commit manifest")
	}

	return nil
}

var generateConfiguration struct {
	help bool
	root string
	out  string
	name string
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false

	flags.BoolVarP(&generateConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&generateConfiguration.root, "root", "r", ".", "Directory to walk and digest")
	flags.StringVarP(&generateConfiguration.out, "out", "o", "", "Directory to write the manifest into (default: root)")
	flags.StringVarP(&generateConfiguration.name, "name", "n", "manifest.hash", "Manifest filename")
}
