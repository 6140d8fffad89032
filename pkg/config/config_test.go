package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadNonExistentFileYieldsZeroValue(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *config != (Configuration{}) {
		t.Errorf("expected zero-value configuration, got %+v", config)
	}
}

func TestLoadDecodesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patchkit.toml")
	contents := `
root = "/srv/app"
manifestUrl = "https://example.com/manifest.hash"
archiveUrl = "https://example.com/archive/"
manifestName = "manifest.hash"
skiplistName = "skip.txt"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Root != "/srv/app" || config.ManifestURL != "https://example.com/manifest.hash" {
		t.Errorf("unexpected configuration: %+v", config)
	}
}

func TestApplyDefaultsOnlyFillsZeroFields(t *testing.T) {
	defaults := &Configuration{Root: "/default/root", ManifestName: "manifest.hash"}
	target := &Configuration{Root: "/explicit/root"}

	defaults.ApplyDefaults(target)

	if target.Root != "/explicit/root" {
		t.Errorf("ApplyDefaults overwrote an explicitly set field: %q", target.Root)
	}
	if target.ManifestName != "manifest.hash" {
		t.Errorf("ApplyDefaults did not fill in a zero field: %q", target.ManifestName)
	}
}
