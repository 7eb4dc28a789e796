package main

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCompressTree(t *testing.T) {
	dir := t.TempDir()
	big := strings.Repeat("body { margin: 0; }\n", 100)
	files := map[string]string{
		"app.css":        big,
		"nested/app.js":  strings.Repeat("console.log(1);\n", 100),
		"small.css":      "a{}",
		"logo.png":       big, // images are not compressible
		"app.css.br":     "stale sidecar",
		"notes/readme.x": big,
	}
	for rel, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	n, err := compressTree(dir)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("wrote %d sidecars, want 4", n)
	}

	var got []string
	entries, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		t.Fatal(err)
	}
	nested, _ := filepath.Glob(filepath.Join(dir, "nested", "*"))
	for _, p := range append(entries, nested...) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			rel, _ := filepath.Rel(dir, p)
			got = append(got, filepath.ToSlash(rel))
		}
	}
	slices.Sort(got)

	want := []string{
		"app.css", "app.css.br", "app.css.gz",
		"logo.png",
		"nested/app.js", "nested/app.js.br", "nested/app.js.gz",
		"small.css",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	br, err := os.ReadFile(filepath.Join(dir, "app.css.br"))
	if err != nil {
		t.Fatal(err)
	}
	if string(br) == "stale sidecar" {
		t.Error("existing sidecar not replaced")
	}
}
