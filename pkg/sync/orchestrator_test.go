package sync

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchkit-io/patchkit/pkg/digest"
	"github.com/patchkit-io/patchkit/pkg/fetch"
	"github.com/patchkit-io/patchkit/pkg/hashcache"
	"github.com/patchkit-io/patchkit/pkg/logging"
	"github.com/patchkit-io/patchkit/pkg/manifest"
	"github.com/patchkit-io/patchkit/pkg/pathenc"
)

// remoteFixture is a small in-memory archive served over HTTP: a manifest
// endpoint and a per-file endpoint keyed by the pathenc-encoded relative
// path, mirroring how a real deployment publishes both from the same
// static file server.
type remoteFixture struct {
	server *httptest.Server
	files  map[string][]byte
}

func newRemoteFixture(t *testing.T, files map[string][]byte) *remoteFixture {
	t.Helper()

	entries := make([]manifest.Entry, 0, len(files))
	for path, data := range files {
		entries = append(entries, manifest.Entry{Digest: digest.FromBytes(data), Path: path})
	}
	var manifestBuf bytes.Buffer
	require.NoError(t, manifest.Encode(&manifestBuf, entries))

	fixture := &remoteFixture{files: files}
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.hash", func(w http.ResponseWriter, r *http.Request) {
		w.Write(manifestBuf.Bytes())
	})
	mux.HandleFunc("/archive/", func(w http.ResponseWriter, r *http.Request) {
		encoded := r.URL.Path[len("/archive/"):]
		for path, data := range fixture.files {
			if pathenc.Encode(path) == encoded {
				w.Write(data)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	})
	fixture.server = httptest.NewServer(mux)
	return fixture
}

func (f *remoteFixture) manifestURL() string {
	return f.server.URL + "/manifest.hash"
}

func (f *remoteFixture) archivePrefix() string {
	return f.server.URL + "/archive/"
}

func newOrchestrator(root string, fixture *remoteFixture, skiplist string) *Orchestrator {
	downloader := fetch.NewDownloader(fixture.server.Client(), fetch.Config{}, logging.RootLogger)
	return New(Config{
		Root:          root,
		ManifestURL:   fixture.manifestURL(),
		ManifestName:  "manifest.hash",
		ArchivePrefix: fixture.archivePrefix(),
		SkiplistName:  skiplist,
		Downloader:    downloader,
	}, logging.RootLogger)
}

// TestCleanInstall verifies that an empty root fetches every remote file.
func TestCleanInstall(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{
		"a.txt":     []byte("alpha"),
		"dir/b.txt": []byte("beta"),
	})

	orchestrator := newOrchestrator(root, fixture, "")

	var finalState State
	orchestrator.Progress.Subscribe(func(s State) { finalState = s })

	err := orchestrator.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, finalState)

	a, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), a)

	b, err := os.ReadFile(filepath.Join(root, "dir", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), b)

	_, err = os.Stat(filepath.Join(root, "manifest.hash"))
	require.NoError(t, err)
}

// TestNoOpWhenUpToDate verifies that a second run against an unchanged
// remote downloads nothing.
func TestNoOpWhenUpToDate(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{"a.txt": []byte("alpha")})

	orchestrator := newOrchestrator(root, fixture, "")
	require.NoError(t, orchestrator.Run(context.Background()))

	var downloaded []string
	orchestrator.Downloaded.Subscribe(func(path string) { downloaded = append(downloaded, path) })

	require.NoError(t, orchestrator.Run(context.Background()))
	require.Empty(t, downloaded)
}

// TestDeletesFilesRemovedRemotely verifies that a file the stored
// manifest tracks but the remote no longer mentions is deleted locally.
func TestDeletesFilesRemovedRemotely(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{
		"keep.txt":   []byte("keep"),
		"remove.txt": []byte("gone-soon"),
	})

	orchestrator := newOrchestrator(root, fixture, "")
	require.NoError(t, orchestrator.Run(context.Background()))

	delete(fixture.files, "remove.txt")
	refreshed := newRemoteFixture(t, map[string][]byte{"keep.txt": []byte("keep")})
	orchestrator2 := newOrchestrator(root, refreshed, "")

	var deleted []string
	orchestrator2.Deleted.Subscribe(func(path string) { deleted = append(deleted, path) })

	require.NoError(t, orchestrator2.Run(context.Background()))
	require.Contains(t, deleted, "remove.txt")

	_, err := os.Stat(filepath.Join(root, "remove.txt"))
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(root, "keep.txt"))
	require.NoError(t, err)
}

// TestRedownloadsChangedFiles verifies that a file whose remote
// digest changed is re-downloaded.
func TestRedownloadsChangedFiles(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{"a.txt": []byte("version-1")})

	orchestrator := newOrchestrator(root, fixture, "")
	require.NoError(t, orchestrator.Run(context.Background()))

	fixture2 := newRemoteFixture(t, map[string][]byte{"a.txt": []byte("version-2")})
	orchestrator2 := newOrchestrator(root, fixture2, "")
	require.NoError(t, orchestrator2.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("version-2"), data)
}

// TestSkiplistExcludesDownload verifies that a skiplisted path is
// never fetched even though the remote manifest lists it.
func TestSkiplistExcludesDownload(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.txt"), []byte("skip.txt\n"), 0o644))

	fixture := newRemoteFixture(t, map[string][]byte{
		"a.txt":    []byte("alpha"),
		"skip.txt": []byte("should-not-be-fetched"),
	})

	orchestrator := newOrchestrator(root, fixture, "skip.txt")
	require.NoError(t, orchestrator.Run(context.Background()))

	_, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "skip.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("skip.txt\n"), data, "skiplisted file must remain untouched")
}

// TestPartialFailureLeavesManifestUntouched verifies that when a
// download fails, the stored manifest is not committed, so a retry
// reattempts the same file.
func TestPartialFailureLeavesManifestUntouched(t *testing.T) {
	root := t.TempDir()

	var shouldFail bool
	mux := http.NewServeMux()
	var manifestBuf bytes.Buffer
	require.NoError(t, manifest.Encode(&manifestBuf, []manifest.Entry{
		{Digest: digest.FromBytes([]byte("alpha")), Path: "a.txt"},
		{Digest: digest.FromBytes([]byte("beta")), Path: "b.txt"},
	}))
	mux.HandleFunc("/manifest.hash", func(w http.ResponseWriter, r *http.Request) {
		w.Write(manifestBuf.Bytes())
	})
	mux.HandleFunc("/archive/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alpha"))
	})
	mux.HandleFunc("/archive/b.txt", func(w http.ResponseWriter, r *http.Request) {
		if shouldFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("beta"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	shouldFail = true
	downloader := fetch.NewDownloader(server.Client(), fetch.Config{}, logging.RootLogger)
	orchestrator := New(Config{
		Root:          root,
		ManifestURL:   server.URL + "/manifest.hash",
		ManifestName:  "manifest.hash",
		ArchivePrefix: server.URL + "/archive/",
		Downloader:    downloader,
	}, logging.RootLogger)

	var exceptions []error
	orchestrator.Exception.Subscribe(func(err error) { exceptions = append(exceptions, err) })

	var finalState State
	orchestrator.Progress.Subscribe(func(s State) { finalState = s })

	err := orchestrator.Run(context.Background())
	require.ErrorIs(t, err, ErrPartialFailure)
	require.Equal(t, StateFail, finalState)
	require.NotEmpty(t, exceptions, "the failed fetch must be published as an exception event")

	_, statErr := os.Stat(filepath.Join(root, "manifest.hash"))
	require.True(t, os.IsNotExist(statErr), "manifest must not be committed on partial failure")

	_, statErr = os.Stat(filepath.Join(root, "manifest.hash.tmp"))
	require.True(t, os.IsNotExist(statErr), "staging manifest must be removed during cleanup")

	// Retry with the failing file now available; this run should succeed
	// and re-attempt exactly the file that previously failed, since the
	// already-installed file is rediscovered by lazy digestion against the
	// live root.
	shouldFail = false
	downloader2 := fetch.NewDownloader(server.Client(), fetch.Config{}, logging.RootLogger)
	orchestrator2 := New(Config{
		Root:          root,
		ManifestURL:   server.URL + "/manifest.hash",
		ManifestName:  "manifest.hash",
		ArchivePrefix: server.URL + "/archive/",
		Downloader:    downloader2,
	}, logging.RootLogger)

	var downloaded []string
	orchestrator2.Downloaded.Subscribe(func(path string) { downloaded = append(downloaded, path) })

	require.NoError(t, orchestrator2.Run(context.Background()))
	require.ElementsMatch(t, []string{"b.txt"}, downloaded)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("alpha"), data)

	data, err = os.ReadFile(filepath.Join(root, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), data)

	_, err = os.Stat(filepath.Join(root, "manifest.hash"))
	require.NoError(t, err, "manifest must be committed once the run fully succeeds")
}

// TestSkiplistExcludesDeletion verifies that a skiplisted path the remote
// manifest no longer mentions is preserved rather than deleted.
func TestSkiplistExcludesDeletion(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{
		"a.txt":          []byte("alpha"),
		"local-only.cfg": []byte("user data"),
	})

	orchestrator := newOrchestrator(root, fixture, "")
	require.NoError(t, orchestrator.Run(context.Background()))

	// The remote drops local-only.cfg, but the user skiplists it.
	require.NoError(t, os.WriteFile(filepath.Join(root, "skiplist.txt"), []byte("local-only.cfg\r\n\n"), 0o644))
	refreshed := newRemoteFixture(t, map[string][]byte{"a.txt": []byte("alpha")})
	orchestrator2 := newOrchestrator(root, refreshed, "skiplist.txt")

	var deleted []string
	orchestrator2.Deleted.Subscribe(func(path string) { deleted = append(deleted, path) })

	require.NoError(t, orchestrator2.Run(context.Background()))
	require.NotContains(t, deleted, "local-only.cfg")

	data, err := os.ReadFile(filepath.Join(root, "local-only.cfg"))
	require.NoError(t, err)
	require.Equal(t, []byte("user data"), data)
}

// TestProgressStatesAreOrdered verifies that the published progress states
// form a subsequence of the state machine's enumeration and that the run
// terminates with exactly one of DONE or FAIL.
func TestProgressStatesAreOrdered(t *testing.T) {
	root := t.TempDir()
	fixture := newRemoteFixture(t, map[string][]byte{"a.txt": []byte("alpha")})

	orchestrator := newOrchestrator(root, fixture, "")

	var states []State
	orchestrator.Progress.Subscribe(func(s State) { states = append(states, s) })

	require.NoError(t, orchestrator.Run(context.Background()))

	require.NotEmpty(t, states)
	require.Equal(t, StateInit, states[0])
	require.Equal(t, StateDone, states[len(states)-1])
	for _, s := range states[:len(states)-1] {
		require.NotEqual(t, StateDone, s, "DONE must be published exactly once, last")
		require.NotEqual(t, StateFail, s, "FAIL must not be published on a successful run")
	}
	for i := 1; i < len(states); i++ {
		require.Greater(t, states[i], states[i-1], "states must advance monotonically through the enumeration")
	}
}

func TestHashcacheFromDirectoryUsedByGenerator(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("content"), 0o644))

	cache, err := hashcache.FromDirectory(root)
	require.NoError(t, err)

	manifestPath := filepath.Join(t.TempDir(), "manifest.hash")
	require.NoError(t, cache.Write(manifestPath))

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
