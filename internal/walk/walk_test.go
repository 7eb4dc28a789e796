package walk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sitepack/internal/config"
)

// makeTree writes files (slash-separated relative paths) under root.
func makeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, rel := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	cfg.SourceDir = src
	cfg.OutputDir = filepath.Join(src, "dist")
	return cfg
}

func collect(t *testing.T, w *Walker) []string {
	t.Helper()
	var rels []string
	for e, err := range w.Files() {
		if err != nil {
			t.Fatal(err)
		}
		rels = append(rels, e.Rel)
	}
	return rels
}

func TestFilesAppliesExclusions(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src,
		"index.html",
		"about.html",
		"README.md",
		"package.json",
		"manifest.json",
		".DS_Store",
		"assets/css/styles.css",
		"assets/js/main.js",
		"assets/images/logo.png",
		"assets/fonts/Inter.woff2",
		"node_modules/lib/index.js",
		".git/HEAD",
		".github/workflows/ci.yml",
		"dist/old.txt",
		"docs/yarn.lock",
	)

	got := collect(t, New(testConfig(t, src), nil))
	want := []string{
		"about.html",
		"assets/css/styles.css",
		"assets/fonts/Inter.woff2",
		"assets/images/logo.png",
		"assets/js/main.js",
		"index.html",
		"manifest.json",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("eligible files mismatch (-want +got):\n%s", diff)
	}
}

func TestFilesMapsDestination(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, "assets/js/Main.JS")
	cfg := testConfig(t, src)

	var entries []Entry
	for e, err := range New(cfg, nil).Files() {
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if want := filepath.Join(src, "assets", "js", "Main.JS"); e.Src != want {
		t.Errorf("Src = %q, want %q", e.Src, want)
	}
	if want := filepath.Join(cfg.OutputDir, "assets", "js", "Main.JS"); e.Dst != want {
		t.Errorf("Dst = %q, want %q", e.Dst, want)
	}
	if e.Ext != ".js" {
		t.Errorf("Ext = %q, want %q", e.Ext, ".js")
	}

	// Directories appear only when a file is written beneath them.
	if _, err := os.Stat(cfg.OutputDir); !os.IsNotExist(err) {
		t.Fatalf("walking created the output directory (err=%v)", err)
	}
}

func TestFilesCreatesNoDirectories(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src,
		"index.html",
		"notes/todo.md",          // excluded by extension
		"vendor/empty/.DS_Store", // excluded by name
	)
	cfg := testConfig(t, src)

	collect(t, New(cfg, nil))

	for _, dir := range []string{"", "notes", "vendor", filepath.Join("vendor", "empty")} {
		if _, err := os.Stat(filepath.Join(cfg.OutputDir, dir)); !os.IsNotExist(err) {
			t.Errorf("walking created %q under the output directory", dir)
		}
	}
}

func TestFilesSkipsCustomOutputDir(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, "index.html", "public/stale.html")
	cfg := testConfig(t, src)
	cfg.OutputDir = filepath.Join(src, "public")

	got := collect(t, New(cfg, nil))
	if diff := cmp.Diff([]string{"index.html"}, got); diff != "" {
		t.Errorf("output dir must never be walked (-want +got):\n%s", diff)
	}
}

func TestFilesSkipsGeneratedNames(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, "index.html", "robots.txt", "sitemap.xml", "sw.js", "docs/robots.txt", "js/sw.js")

	tests := []struct {
		mode string
		want []string
	}{
		{config.ModeStrict, []string{"docs/robots.txt", "index.html", "js/sw.js"}},
		{config.ModeSimple, []string{"docs/robots.txt", "index.html", "js/sw.js", "sw.js"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := testConfig(t, src)
			cfg.Mode = tt.mode
			if diff := cmp.Diff(tt.want, collect(t, New(cfg, nil))); diff != "" {
				t.Errorf("files mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilesPatterns(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src,
		"index.html",
		"drafts/post.html",
		"assets/js/app.js.map",
		"assets/js/app.js",
	)
	cfg := testConfig(t, src)
	cfg.Exclude.Patterns = []string{"drafts/**", "**/*.map"}

	got := collect(t, New(cfg, nil))
	if diff := cmp.Diff([]string{"assets/js/app.js", "index.html"}, got); diff != "" {
		t.Errorf("pattern exclusion mismatch (-want +got):\n%s", diff)
	}
}

func TestFilesIsRestartable(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, "a.html", "b.html", "c.html")
	w := New(testConfig(t, src), nil)

	first := collect(t, w)
	second := collect(t, w)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second traversal differs (-first +second):\n%s", diff)
	}
}

func TestFilesStopsEarly(t *testing.T) {
	src := t.TempDir()
	makeTree(t, src, "a.html", "b.html", "c.html")

	n := 0
	for _, err := range New(testConfig(t, src), nil).Files() {
		if err != nil {
			t.Fatal(err)
		}
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("consumed %d entries, want 2", n)
	}
}

func TestExcluded(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	w := New(cfg, nil)

	tests := map[string]bool{
		"index.html":                false,
		"manifest.json":             false,
		"assets/manifest.json":      false,
		"package.json":              true,
		"Thumbs.db":                 true,
		"CHANGELOG.MD":              true,
		"node_modules/x/index.js":   true,
		"assets/.git/config":        true,
		"assets/images/hero.webp":   false,
		"assets/.github/banner.png": true,
	}
	for rel, want := range tests {
		if got := w.Excluded(rel); got != want {
			t.Errorf("Excluded(%q) = %v, want %v", rel, got, want)
		}
	}
}
