// Package publish uploads a finished output directory to object storage.
//
// Every file becomes one object whose key is its slash-separated path
// below the output root, optionally under a prefix. A sidecar keeps its own
// key (index.html.br) and is stored with the Content-Type of the file it
// encodes plus a Content-Encoding, so a CDN can serve it directly.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sitepack/internal/logging"
	"sitepack/internal/outdir"
	"sitepack/internal/sidecar"
)

// Supported target schemes.
const (
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeAzure = "azblob"
	SchemeFile  = "file"
)

// ErrUnsupportedTarget is returned for a target URL with an unknown scheme.
var ErrUnsupportedTarget = errors.New("unsupported publish target")

// Meta is the HTTP metadata stored with an object.
type Meta struct {
	ContentType     string
	ContentEncoding string
	CacheControl    string
}

// Bucket is a destination for published objects.
type Bucket interface {
	Put(ctx context.Context, key string, body []byte, meta Meta) error
	Close() error
}

// Target identifies a bucket and key prefix.
//
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//	gs://bucket/prefix?endpoint=http://localhost:4443
//	azblob://container/prefix?account=name
//	file:///srv/www
type Target struct {
	Scheme string
	Bucket string // bucket, container, or directory for file targets
	Prefix string
	Params url.Values
}

// ParseTarget parses a target URL.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse target %q: %w", raw, err)
	}
	t := Target{Scheme: u.Scheme, Params: u.Query()}
	switch u.Scheme {
	case SchemeS3, SchemeGCS, SchemeAzure:
		if u.Host == "" {
			return Target{}, fmt.Errorf("target %q: missing bucket name", raw)
		}
		t.Bucket = u.Host
		t.Prefix = strings.Trim(u.Path, "/")
	case SchemeFile:
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + u.Path
		}
		if dir == "" {
			return Target{}, fmt.Errorf("target %q: missing directory", raw)
		}
		t.Bucket = filepath.FromSlash(dir)
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedTarget, raw)
	}
	return t, nil
}

func (t Target) String() string {
	if t.Scheme == SchemeFile {
		return "file://" + filepath.ToSlash(t.Bucket)
	}
	return t.Scheme + "://" + path.Join(t.Bucket, t.Prefix)
}

// Open connects to the bucket named by t. Credentials come from the
// environment of each provider's SDK.
func Open(ctx context.Context, t Target) (Bucket, error) {
	var (
		b   Bucket
		err error
	)
	switch t.Scheme {
	case SchemeS3:
		b, err = openS3(ctx, t)
	case SchemeGCS:
		b, err = openGCS(ctx, t)
	case SchemeAzure:
		b, err = openAzure(t)
	case SchemeFile:
		b = NewDirBucket(t.Bucket)
	default:
		err = fmt.Errorf("%w: scheme %q", ErrUnsupportedTarget, t.Scheme)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Options tune a publish run.
type Options struct {
	Prefix  string
	Workers int     // concurrent uploads; 0 means 4
	RPS     float64 // uploads per second; 0 means unlimited
	Logger  *slog.Logger
}

// Result summarises a publish run.
type Result struct {
	Objects  int
	Sidecars int
	Bytes    int64
	Duration time.Duration
}

type object struct {
	rel  string
	path string
	meta Meta
}

// Publish uploads every file below dir to bucket. The first failed upload
// cancels the rest and is returned.
func Publish(ctx context.Context, dir string, bucket Bucket, opts Options) (*Result, error) {
	logger := logging.Default(opts.Logger).With("component", "publish")
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	limiter := rate.NewLimiter(limit, workers)

	objects, err := collect(dir)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		uploaded, sidecars atomic.Int64
		bytes              atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, obj := range objects {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			body, err := os.ReadFile(obj.path)
			if err != nil {
				return fmt.Errorf("read %s: %w", obj.rel, err)
			}
			key := objectKey(opts.Prefix, obj.rel)
			if err := bucket.Put(gctx, key, body, obj.meta); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			logger.Debug("uploaded", "key", key, "bytes", len(body), "encoding", obj.meta.ContentEncoding)
			uploaded.Add(1)
			bytes.Add(int64(len(body)))
			if obj.meta.ContentEncoding != "" {
				sidecars.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Objects:  int(uploaded.Load()),
		Sidecars: int(sidecars.Load()),
		Bytes:    bytes.Load(),
		Duration: time.Since(start),
	}
	logger.Info("publish finished", "objects", res.Objects, "sidecars", res.Sidecars, "bytes", res.Bytes, "duration", res.Duration)
	return res, nil
}

// collect lists the files below dir in lexical order with their metadata.
func collect(dir string) ([]object, error) {
	var rels []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	slices.Sort(rels)

	objects := make([]object, 0, len(rels))
	for _, rel := range rels {
		objects = append(objects, object{
			rel:  rel,
			path: filepath.Join(dir, filepath.FromSlash(rel)),
			meta: metaFor(rel, rels),
		})
	}
	return objects, nil
}

// metaFor derives the metadata for rel. A sidecar only counts as one when
// the file it encodes is part of the same tree.
func metaFor(rel string, sorted []string) Meta {
	if base, enc, ok := sidecar.Parse(rel); ok {
		if _, found := slices.BinarySearch(sorted, base); found {
			return Meta{
				ContentType:     outdir.ContentType(base),
				ContentEncoding: enc,
				CacheControl:    outdir.CacheControl(base),
			}
		}
	}
	return Meta{
		ContentType:  outdir.ContentType(rel),
		CacheControl: outdir.CacheControl(rel),
	}
}

func objectKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
