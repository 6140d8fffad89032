package main

import (
	"os"
)

func main() {
	// Cobra itself only returns an error here for usage problems (unknown
	// flag, bad argument) since rootMain's own errors are handled by
	// cmd.Mainify via cmd.Fatal, which exits the process directly. Usage
	// errors get their own exit code.
	if err := rootCommand.Execute(); err != nil {
		os.Exit(2)
	}
}
