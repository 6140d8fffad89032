package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/patchkit-io/patchkit/cmd"
)

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(2)
	}
}

var rootCommand = &cobra.Command{
	Use:   "patchkit-manifest",
	Short: "patchkit-manifest walks a directory and writes the hash manifest patchkit clients synchronize against.",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(generateMain),
}
