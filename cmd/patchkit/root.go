package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/patchkit-io/patchkit/cmd"
	"github.com/patchkit-io/patchkit/pkg/config"
	"github.com/patchkit-io/patchkit/pkg/fetch"
	"github.com/patchkit-io/patchkit/pkg/fsutil"
	"github.com/patchkit-io/patchkit/pkg/logging"
	"github.com/patchkit-io/patchkit/pkg/platform/terminal"
	"github.com/patchkit-io/patchkit/pkg/sync"
)

var logger = logging.RootLogger.Sublogger("patchkit")

func rootMain(command *cobra.Command, arguments []string) error {
	if rootConfiguration.logLevel != "" {
		level, ok := logging.NameToLevel(rootConfiguration.logLevel)
		if !ok {
			return errors.Errorf("unknown log level: %q", rootConfiguration.logLevel)
		}
		logging.SetLevel(level)
	}

	fileConfig, err := config.Load(rootConfiguration.config)
	if err != nil {
		return errors.Wrap(err, "unable to load configuration file")
	}

	effective := &config.Configuration{
		Root:         rootConfiguration.root,
		ManifestURL:  rootConfiguration.manifestURL,
		ArchiveURL:   rootConfiguration.archiveURL,
		ManifestName: rootConfiguration.manifestName,
		SkiplistName: rootConfiguration.skiplist,
	}
	fileConfig.ApplyDefaults(effective)

	if effective.Root == "" {
		effective.Root = "."
	}
	root, err := fsutil.Normalize(effective.Root)
	if err != nil {
		return errors.Wrap(err, "unable to resolve synchronization root")
	}

	if effective.ManifestURL == "" {
		return errors.New("manifest URL must be specified via --manifest-url or configuration file")
	}
	if effective.ArchiveURL == "" {
		return errors.New("archive URL must be specified via --archive-url or configuration file")
	}
	manifestName := effective.ManifestName
	if manifestName == "" {
		manifestName = "manifest.hash"
	}

	// runID correlates every log line and exception reported by this
	// invocation, which matters once fetches are running concurrently and
	// their failures would otherwise interleave indistinguishably.
	runID := uuid.New().String()
	runLogger := logger.Sublogger(runID)

	downloader := fetch.NewDownloader(http.DefaultClient, fetch.Config{}, runLogger)

	orchestrator := sync.New(sync.Config{
		Root:          root,
		ManifestURL:   effective.ManifestURL,
		ManifestName:  manifestName,
		ArchivePrefix: effective.ArchiveURL,
		SkiplistName:  effective.SkiplistName,
		Downloader:    downloader,
	}, runLogger)

	statusLine := &cmd.StatusLinePrinter{}
	commandLine := rootConfiguration.commandLine

	progressSub := orchestrator.Progress.Subscribe(func(state sync.State) {
		if commandLine {
			fmt.Println(state)
		} else {
			statusLine.Print(state.String())
		}
	})
	deletedSub := orchestrator.Deleted.Subscribe(func(path string) {
		printEvent(statusLine, commandLine, fmt.Sprintf("deleted %s", terminal.NeutralizeControlCharacters(path)))
	})
	downloadedSub := orchestrator.Downloaded.Subscribe(func(path string) {
		printEvent(statusLine, commandLine, fmt.Sprintf("downloaded %s", terminal.NeutralizeControlCharacters(path)))
	})
	exceptionSub := orchestrator.Exception.Subscribe(func(err error) {
		cmd.Warning(fmt.Sprintf("[%s] %v", runID, err))
	})
	defer orchestrator.Progress.Unsubscribe(progressSub)
	defer orchestrator.Deleted.Unsubscribe(deletedSub)
	defer orchestrator.Downloaded.Unsubscribe(downloadedSub)
	defer orchestrator.Exception.Unsubscribe(exceptionSub)

	runErr := orchestrator.Run(context.Background())

	statusLine.BreakIfNonEmpty()

	if shutdownErr := downloader.Shutdown(fetch.DefaultConnectionTimeout); shutdownErr != nil {
		runLogger.Warn(shutdownErr)
	}

	fmt.Printf(
		"Downloaded %s, %s remaining queued\n",
		humanize.Bytes(uint64(downloader.DownloadedBytes())),
		humanize.Bytes(uint64(downloader.RemainingBytes())),
	)

	if runErr != nil {
		return errors.Wrap(runErr, "synchronization failed")
	}
	return nil
}

func printEvent(statusLine *cmd.StatusLinePrinter, commandLine bool, message string) {
	if commandLine {
		fmt.Println(message)
	} else {
		statusLine.Print(message)
	}
}

var rootCommand = &cobra.Command{
	Use:   "patchkit",
	Short: "patchkit synchronizes a local directory against a manifest-described HTTP archive.",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(rootMain),
}

var rootConfiguration struct {
	help         bool
	root         string
	commandLine  bool
	manifestURL  string
	archiveURL   string
	manifestName string
	skiplist     string
	config       string
	logLevel     string
}

func init() {
	flags := rootCommand.Flags()
	flags.SortFlags = false

	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")
	flags.StringVarP(&rootConfiguration.root, "root", "r", "", "Synchronization root directory (default: current directory)")
	flags.BoolVar(&rootConfiguration.commandLine, "noui", false, "Print one line per event instead of a single overwritten status line")
	flags.BoolVar(&rootConfiguration.commandLine, "commandline", false, "Alias for --noui")
	flags.BoolVar(&rootConfiguration.commandLine, "cl", false, "Alias for --noui")
	flags.StringVar(&rootConfiguration.manifestURL, "manifest-url", "", "Remote manifest endpoint")
	flags.StringVar(&rootConfiguration.archiveURL, "archive-url", "", "Archive URL prefix")
	flags.StringVar(&rootConfiguration.manifestName, "manifest-name", "", "Stored manifest filename, relative to root (default \"manifest.hash\")")
	flags.StringVar(&rootConfiguration.skiplist, "skiplist", "", "Skiplist filename, relative to root (disabled if empty)")
	flags.StringVar(&rootConfiguration.config, "config", "", "TOML configuration file supplying defaults for the flags above")
	flags.StringVar(&rootConfiguration.logLevel, "log-level", "", "Log level (disabled, error, warn, info, debug, trace)")

	cobra.EnableCommandSorting = false
	cobra.MousetrapHelpText = ""
}
