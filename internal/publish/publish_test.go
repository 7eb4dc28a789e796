package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sitepack/internal/outdir"
)

type put struct {
	Body string
	Meta Meta
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string]put
	failOn  string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string]put)}
}

var errBoom = errors.New("boom")

func (b *memBucket) Put(ctx context.Context, key string, body []byte, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == b.failOn {
		return errBoom
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = put{Body: string(body), Meta: meta}
	return nil
}

func (b *memBucket) Close() error { return nil }

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

var tree = map[string]string{
	"index.html":            "<p>home</p>",
	"index.html.br":         "brotli",
	"index.html.gz":         "gzip",
	"assets/css/styles.css": "body{margin:0}",
	"downloads/archive.gz":  "tarball",
}

func TestPublishUploadsTreeWithMetadata(t *testing.T) {
	dir := writeTree(t, tree)
	b := newMemBucket()

	res, err := Publish(context.Background(), dir, b, Options{Prefix: "/site/", Workers: 2})
	if err != nil {
		t.Fatal(err)
	}

	html := "text/html; charset=utf-8"
	want := map[string]put{
		"site/index.html":    {"<p>home</p>", Meta{ContentType: html, CacheControl: "no-cache"}},
		"site/index.html.br": {"brotli", Meta{ContentType: html, ContentEncoding: "br", CacheControl: "no-cache"}},
		"site/index.html.gz": {"gzip", Meta{ContentType: html, ContentEncoding: "gzip", CacheControl: "no-cache"}},
		"site/assets/css/styles.css": {"body{margin:0}", Meta{
			ContentType: "text/css; charset=utf-8", CacheControl: "public, max-age=3600",
		}},
		// No archive file next to it, so this is a plain object.
		"site/downloads/archive.gz": {"tarball", Meta{
			ContentType: outdir.ContentType("archive.gz"), CacheControl: "public, max-age=3600",
		}},
	}
	if diff := cmp.Diff(want, b.objects); diff != "" {
		t.Errorf("objects mismatch (-want +got):\n%s", diff)
	}
	if res.Objects != 5 || res.Sidecars != 2 {
		t.Errorf("result = %+v, want 5 objects with 2 sidecars", res)
	}
}

func TestPublishStopsOnFirstError(t *testing.T) {
	dir := writeTree(t, tree)
	b := newMemBucket()
	b.failOn = "index.html"

	_, err := Publish(context.Background(), dir, b, Options{Workers: 1})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Publish = %v, want %v", err, errBoom)
	}
	// Uploads run in lexical order with a single worker; nothing after the
	// failing key is attempted.
	for key := range b.objects {
		if key > "index.html" {
			t.Errorf("%s uploaded after the failure", key)
		}
	}
}

func TestPublishRateLimited(t *testing.T) {
	dir := writeTree(t, tree)
	b := newMemBucket()

	res, err := Publish(context.Background(), dir, b, Options{Workers: 1, RPS: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if res.Objects != len(tree) {
		t.Errorf("Objects = %d, want %d", res.Objects, len(tree))
	}
}

func TestPublishCancelled(t *testing.T) {
	dir := writeTree(t, tree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Publish(ctx, dir, newMemBucket(), Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish = %v, want context.Canceled", err)
	}
}

func TestPublishMissingDir(t *testing.T) {
	if _, err := Publish(context.Background(), filepath.Join(t.TempDir(), "nope"), newMemBucket(), Options{}); err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

func TestPublishToDirBucket(t *testing.T) {
	dir := writeTree(t, tree)
	dest := t.TempDir()

	bucket, err := Open(context.Background(), Target{Scheme: SchemeFile, Bucket: dest})
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()

	if _, err := Publish(context.Background(), dir, bucket, Options{Prefix: "www"}); err != nil {
		t.Fatal(err)
	}
	for rel, body := range tree {
		got, err := os.ReadFile(filepath.Join(dest, "www", filepath.FromSlash(rel)))
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != body {
			t.Errorf("%s = %q, want %q", rel, got, body)
		}
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		raw     string
		scheme  string
		bucket  string
		prefix  string
		param   string
		wantErr bool
	}{
		{raw: "s3://site-bucket", scheme: SchemeS3, bucket: "site-bucket"},
		{raw: "s3://site-bucket/www/?region=eu-west-1", scheme: SchemeS3, bucket: "site-bucket", prefix: "www", param: "eu-west-1"},
		{raw: "gs://assets/v2/site", scheme: SchemeGCS, bucket: "assets", prefix: "v2/site"},
		{raw: "azblob://web-assets?account=excel", scheme: SchemeAzure, bucket: "web-assets"},
		{raw: "file:///srv/www", scheme: SchemeFile, bucket: filepath.FromSlash("/srv/www")},
		{raw: "s3:///prefix", wantErr: true},
		{raw: "file://", wantErr: true},
		{raw: "ftp://host/dir", wantErr: true},
		{raw: "%zz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTarget(%q) = %+v, want error", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.Scheme != tt.scheme || got.Bucket != tt.bucket || got.Prefix != tt.prefix {
				t.Errorf("got %+v", got)
			}
			if tt.param != "" && got.Params.Get("region") != tt.param {
				t.Errorf("region = %q, want %q", got.Params.Get("region"), tt.param)
			}
		})
	}
}

func TestParseTargetUnsupported(t *testing.T) {
	if _, err := ParseTarget("ftp://host/dir"); !errors.Is(err, ErrUnsupportedTarget) {
		t.Fatalf("err = %v, want ErrUnsupportedTarget", err)
	}
}
