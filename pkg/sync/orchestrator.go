// Package sync implements the update orchestrator: the state machine that
// drives one full synchronization cycle from a stored local manifest and a
// freshly downloaded remote one through deletion, download, and manifest
// commit. A single driving goroutine walks an explicit state sequence and
// publishes progress through observer sites.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit-io/patchkit/pkg/digest"
	"github.com/patchkit-io/patchkit/pkg/events"
	"github.com/patchkit-io/patchkit/pkg/fetch"
	"github.com/patchkit-io/patchkit/pkg/fsutil"
	"github.com/patchkit-io/patchkit/pkg/hashcache"
	"github.com/patchkit-io/patchkit/pkg/logging"
	"github.com/patchkit-io/patchkit/pkg/pathenc"
)

// ErrPartialFailure is returned by Run when one or more deletions or
// downloads failed during an otherwise complete cycle. The stored manifest
// is left untouched in this case, so a retried run compares against it
// again and re-attempts the files that failed, together with any other file
// that still differs from the stored manifest.
var ErrPartialFailure = errors.New("one or more files failed to synchronize")

// DownloadProgress reports bytes transferred for a single file, published
// on an Orchestrator's DownloadProgress site as each tracked file
// completes.
type DownloadProgress struct {
	Path  string
	Bytes int64
}

// Config configures an Orchestrator.
type Config struct {
	// Root is the local synchronization root.
	Root string
	// ManifestURL is the HTTP endpoint serving the remote manifest.
	ManifestURL string
	// ManifestName is the stored manifest's filename, relative to Root.
	ManifestName string
	// ArchivePrefix is prepended to each pathenc-encoded relative path to
	// form a file's download URL.
	ArchivePrefix string
	// SkiplistName is the optional skiplist's filename, relative to Root.
	// Empty disables the skiplist.
	SkiplistName string
	// Downloader performs the actual HTTP fetches.
	Downloader *fetch.Downloader
}

// Orchestrator drives one update cycle per call to Run.
type Orchestrator struct {
	config Config
	logger *logging.Logger

	Progress         *events.Site[State]
	Deleted          *events.Site[string]
	Downloaded       *events.Site[string]
	DownloadProgress *events.Site[DownloadProgress]
	Exception        *events.Site[error]
}

// New creates an Orchestrator for config, logging through logger.
func New(config Config, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		config:           config,
		logger:           logger,
		Progress:         events.NewSite[State](logger),
		Deleted:          events.NewSite[string](logger),
		Downloaded:       events.NewSite[string](logger),
		DownloadProgress: events.NewSite[DownloadProgress](logger),
		Exception:        events.NewSite[error](logger),
	}
}

func (o *Orchestrator) publish(state State) {
	o.Progress.Notify(state)
}

func (o *Orchestrator) reportException(err error) {
	o.logger.Warn(err)
	o.Exception.Notify(err)
}

// Run executes exactly one update cycle: it copies the existing manifest to
// a staging location, downloads the remote manifest, computes what needs
// deleting and downloading, applies those changes, and -- only on full
// success -- commits the new manifest over the old one.
func (o *Orchestrator) Run(ctx context.Context) (runErr error) {
	localManifestPath, err := fsutil.JoinRelative(o.config.Root, o.config.ManifestName)
	if err != nil {
		o.publish(StateFail)
		return fmt.Errorf("unable to resolve manifest path: %w", err)
	}
	stagingManifestPath := localManifestPath + ".tmp"

	success := true

	defer func() {
		o.publish(StateCleanUp)
		fsutil.RemoveIfExists(stagingManifestPath, o.logger)
		if runErr == nil && !success {
			runErr = ErrPartialFailure
		}
		if runErr != nil {
			o.publish(StateFail)
		} else {
			o.publish(StateDone)
		}
	}()

	o.publish(StateInit)

	o.publish(StateCopyingHashManifest)
	if _, err := os.Stat(localManifestPath); err == nil {
		if err := fsutil.CopyFile(localManifestPath, stagingManifestPath); err != nil {
			runErr = fmt.Errorf("unable to stage existing manifest: %w", err)
			return runErr
		}
	} else if !os.IsNotExist(err) {
		runErr = fmt.Errorf("unable to stat existing manifest: %w", err)
		return runErr
	}

	o.publish(StateDownloadingHashManifest)
	handle := o.config.Downloader.Enqueue(ctx, o.config.ManifestURL, stagingManifestPath, false)
	if err := handle.Wait(ctx); err != nil {
		runErr = fmt.Errorf("unable to download remote manifest: %w", err)
		return runErr
	}
	remoteCache, err := hashcache.Load(stagingManifestPath, "", nil)
	if err != nil {
		runErr = fmt.Errorf("unable to decode remote manifest: %w", err)
		return runErr
	}

	localCache, err := o.loadLocalCache(localManifestPath)
	if err != nil {
		runErr = err
		return runErr
	}

	o.publish(StateComparingFiles)
	toDownload := localCache.Difference(remoteCache)
	toDelete := localFilesMissingFromRemote(localCache, remoteCache)

	skiplist, err := loadSkiplist(skiplistPath(o.config.Root, o.config.SkiplistName))
	if err != nil {
		runErr = err
		return runErr
	}
	toDownload = filterSkiplisted(toDownload, skiplist)
	toDelete = filterSkiplisted(toDelete, skiplist)

	if len(toDelete) > 0 {
		o.publish(StateDeletingFiles)
		if !o.deleteFiles(localCache, toDelete) {
			success = false
		}
	}

	if len(toDownload) > 0 {
		o.publish(StateDownloadingFiles)
		if !o.downloadFiles(ctx, localCache, remoteCache, toDownload) {
			success = false
		}
	}

	if success {
		o.publish(StateUpdatingHashManifest)
		if err := os.Rename(stagingManifestPath, localManifestPath); err != nil {
			runErr = fmt.Errorf("unable to commit updated manifest: %w", err)
			return runErr
		}
	}

	return runErr
}

// loadLocalCache loads the stored local manifest, binding it to Root so
// that Get lazily digests files it doesn't already have a recorded entry
// for. A missing local manifest (first run) yields an empty bound cache,
// so comparison happens against live on-disk content rather than treating
// every remote file as missing.
func (o *Orchestrator) loadLocalCache(localManifestPath string) (*hashcache.Cache, error) {
	cache, err := hashcache.Load(localManifestPath, o.config.Root, nil)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return hashcache.NewBound(o.config.Root), nil
		}
		return nil, fmt.Errorf("unable to load local manifest: %w", err)
	}
	return cache, nil
}

// localFilesMissingFromRemote returns every path the local cache knows
// about that the remote manifest no longer mentions -- these are deleted.
// Directory pruning beyond manifest-tracked paths remains out of scope.
func localFilesMissingFromRemote(local, remote *hashcache.Cache) []string {
	var missing []string
	for _, path := range local.Paths() {
		if _, ok := remote.Get(path); !ok {
			missing = append(missing, path)
		}
	}
	return missing
}

// filterSkiplisted removes any path present in skiplist from paths.
func filterSkiplisted(paths []string, skiplist map[string]struct{}) []string {
	if len(skiplist) == 0 {
		return paths
	}
	filtered := paths[:0]
	for _, path := range paths {
		if _, skip := skiplist[path]; !skip {
			filtered = append(filtered, path)
		}
	}
	return filtered
}

// skiplistPath joins root and name, or returns "" if name is empty
// (disabling the skiplist).
func skiplistPath(root, name string) string {
	if name == "" {
		return ""
	}
	path, err := fsutil.JoinRelative(root, name)
	if err != nil {
		return ""
	}
	return path
}

// deleteFiles removes every path in toDelete from disk and from cache,
// publishing a Deleted event per success and an Exception per failure. It
// returns false if any deletion failed.
func (o *Orchestrator) deleteFiles(cache *hashcache.Cache, toDelete []string) bool {
	success := true
	for _, path := range toDelete {
		full, err := fsutil.JoinRelative(o.config.Root, path)
		if err != nil {
			o.reportException(fmt.Errorf("unable to resolve path %q for deletion: %w", path, err))
			success = false
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			o.reportException(fmt.Errorf("unable to delete %q: %w", path, err))
			success = false
			continue
		}
		cache.Delete(path)
		o.Deleted.Notify(path)
	}
	return success
}

// downloadFiles fetches every path in toDownload from the remote archive,
// publishing Downloaded/DownloadProgress events per success and an
// Exception per failure. It returns false if any download failed.
func (o *Orchestrator) downloadFiles(ctx context.Context, local, remote *hashcache.Cache, toDownload []string) bool {
	type pending struct {
		path   string
		handle *fetch.Handle
	}

	success := true
	handles := make([]pending, 0, len(toDownload))
	for _, path := range toDownload {
		full, err := fsutil.JoinRelative(o.config.Root, path)
		if err != nil {
			o.reportException(fmt.Errorf("unable to resolve path %q for download: %w", path, err))
			success = false
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			o.reportException(fmt.Errorf("unable to create parent directory for %q: %w", path, err))
			success = false
			continue
		}
		url := o.config.ArchivePrefix + pathenc.Encode(path)
		handles = append(handles, pending{path: path, handle: o.config.Downloader.Enqueue(ctx, url, full, true)})
	}

	for _, p := range handles {
		if err := p.handle.Wait(ctx); err != nil {
			o.reportException(fmt.Errorf("unable to download %q: %w", p.path, err))
			success = false
			continue
		}

		full, err := fsutil.JoinRelative(o.config.Root, p.path)
		if err != nil {
			o.reportException(fmt.Errorf("unable to resolve path %q after download: %w", p.path, err))
			success = false
			continue
		}
		d, err := digest.FromFile(full)
		if err != nil {
			o.reportException(fmt.Errorf("unable to digest downloaded file %q: %w", p.path, err))
			success = false
			continue
		}

		remoteDigest, _ := remote.Get(p.path)
		if !d.Equal(remoteDigest) {
			o.reportException(fmt.Errorf("downloaded file %q does not match expected digest", p.path))
			success = false
			continue
		}

		local.Set(p.path, d)

		info, statErr := os.Stat(full)
		var size int64
		if statErr == nil {
			size = info.Size()
		}
		o.DownloadProgress.Notify(DownloadProgress{Path: p.path, Bytes: size})
		o.Downloaded.Notify(p.path)
	}

	return success
}
