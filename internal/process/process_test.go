package process

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sitepack/internal/config"
	"sitepack/internal/imageopt"
	"sitepack/internal/minify"
	"sitepack/internal/sidecar"
	"sitepack/internal/walk"
)

type fixture struct {
	proc *Processor
	src  string
	out  string
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	cfg.Mode = mode
	cfg.SourceDir = filepath.Join(root, "src")
	cfg.OutputDir = filepath.Join(root, "dist")

	m, err := minify.New(mode)
	if err != nil {
		t.Fatal(err)
	}
	proc := New(cfg, m, imageopt.New(cfg.Images, m), sidecar.New(cfg.Compress, nil), nil)
	return &fixture{proc: proc, src: cfg.SourceDir, out: cfg.OutputDir}
}

// entry writes body to rel in the source tree and returns its walk entry.
func (f *fixture) entry(t *testing.T, rel, body string) walk.Entry {
	t.Helper()
	src := filepath.Join(f.src, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return walk.Entry{
		Src: src,
		Dst: filepath.Join(f.out, filepath.FromSlash(rel)),
		Rel: rel,
		Ext: strings.ToLower(filepath.Ext(rel)),
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func largeHTML() string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n  <title>Academics</title>\n</head>\n<body>\n")
	for i := range 40 {
		b.WriteString("  <!-- section -->\n  <p class=\"lead\">\n    Course number ")
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(" covers reading, writing and arithmetic.\n  </p>\n")
	}
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

func TestProcessHTMLWithSidecars(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	src := largeHTML()
	e := f.entry(t, "academics.html", src)

	res, err := f.proc.Process(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if res.Group != config.GroupHTML || res.Degraded {
		t.Errorf("result = %+v", res)
	}
	if res.InBytes != int64(len(src)) || res.OutBytes >= res.InBytes {
		t.Errorf("in/out = %d/%d, want output smaller than %d", res.InBytes, res.OutBytes, len(src))
	}
	if res.OutBytes <= 1024 {
		t.Fatalf("fixture too small for sidecars: %d bytes", res.OutBytes)
	}
	if diff := cmp.Diff([]string{e.Dst + ".gz", e.Dst + ".br"}, res.Sidecars); diff != "" {
		t.Errorf("sidecars mismatch (-want +got):\n%s", diff)
	}
	if got := readFile(t, e.Dst); int64(len(got)) != res.OutBytes {
		t.Errorf("written %d bytes, result says %d", len(got), res.OutBytes)
	}
}

func TestProcessSmallCSSNoSidecars(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := f.entry(t, "assets/css/styles.css", "body {\n  margin: 0;\n}\n")

	res, err := f.proc.Process(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sidecars) != 0 {
		t.Errorf("sidecars = %v, want none", res.Sidecars)
	}
	if _, err := os.Stat(e.Dst + ".gz"); !os.IsNotExist(err) {
		t.Error("unexpected .gz sidecar")
	}
}

func TestProcessStrictMinifyErrorSkipsWrite(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := f.entry(t, "assets/js/broken.js", "function (\n")

	if _, err := f.proc.Process(context.Background(), e); err == nil {
		t.Fatal("expected minify error")
	}
	if _, err := os.Stat(e.Dst); !os.IsNotExist(err) {
		t.Fatalf("output written for a file that failed to minify (err=%v)", err)
	}
	if _, err := os.Stat(filepath.Dir(e.Dst)); !os.IsNotExist(err) {
		t.Fatalf("empty output directory left behind (err=%v)", err)
	}
}

func TestProcessSimpleModeMinifies(t *testing.T) {
	f := newFixture(t, config.ModeSimple)
	e := f.entry(t, "assets/js/main.js", "// nav\nvar open = false;\n")

	res, err := f.proc.Process(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(readFile(t, e.Dst)); got != "var open=false;" {
		t.Errorf("output = %q", got)
	}
	if res.Degraded {
		t.Error("unexpected Degraded")
	}
}

func TestProcessCorruptImageCopiesOriginal(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := f.entry(t, "assets/images/logo.png", "definitely not a png")

	res, err := f.proc.Process(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Degraded {
		t.Error("expected Degraded for a corrupt image")
	}
	if got := string(readFile(t, e.Dst)); got != "definitely not a png" {
		t.Errorf("output = %q, want original bytes", got)
	}
}

func TestProcessSimpleModeCopiesImages(t *testing.T) {
	f := newFixture(t, config.ModeSimple)
	svg := "<svg xmlns=\"http://www.w3.org/2000/svg\">  <!-- c -->  </svg>"
	e := f.entry(t, "assets/images/icon.svg", svg)

	if _, err := f.proc.Process(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if got := string(readFile(t, e.Dst)); got != svg {
		t.Errorf("output = %q, want verbatim copy", got)
	}
}

func TestProcessCopiesUnknownTypes(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	body := string(bytes.Repeat([]byte{0, 1, 2, 0xff}, 600))
	e := f.entry(t, "assets/fonts/Inter.woff2", body)

	res, err := f.proc.Process(context.Background(), e)
	if err != nil {
		t.Fatal(err)
	}
	if res.Group != config.GroupFonts {
		t.Errorf("group = %q, want fonts", res.Group)
	}
	if got := readFile(t, e.Dst); !bytes.Equal(got, []byte(body)) {
		t.Error("font not copied byte for byte")
	}
	if len(res.Sidecars) != 0 {
		t.Errorf("fonts must not get sidecars, got %v", res.Sidecars)
	}
}

func TestProcessManifestJSON(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := f.entry(t, "manifest.json", "{\n  \"name\": \"Excel Academy\",\n  \"display\": \"standalone\"\n}\n")

	if _, err := f.proc.Process(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	want := `{"name":"Excel Academy","display":"standalone"}`
	if got := string(readFile(t, e.Dst)); got != want {
		t.Errorf("manifest = %q, want %q", got, want)
	}
}

func TestProcessCancelled(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := f.entry(t, "index.html", "<p>x</p>")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.proc.Process(ctx, e); !errors.Is(err, context.Canceled) {
		t.Fatalf("Process = %v, want context.Canceled", err)
	}
}

func TestProcessMissingSource(t *testing.T) {
	f := newFixture(t, config.ModeStrict)
	e := walk.Entry{
		Src: filepath.Join(f.src, "gone.html"),
		Dst: filepath.Join(f.out, "gone.html"),
		Rel: "gone.html",
		Ext: ".html",
	}
	if _, err := f.proc.Process(context.Background(), e); err == nil {
		t.Fatal("expected read error")
	}
}
