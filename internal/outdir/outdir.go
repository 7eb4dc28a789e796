// Package outdir manages the build output directory.
//
// The output directory is owned entirely by the build: it is removed and
// recreated at the start of every run, so nothing persists between runs
// except what the last run wrote.
//
// Layout:
//
//	<root>/
//	  <mirrored source tree>     (minified copies, same relative paths)
//	  <file>.gz / .br / .zst     (compressed sidecars next to text assets)
//	  sitemap.xml
//	  robots.txt
//	  sw.js                      (strict builds only)
package outdir

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/renameio/v2"
)

// Generated file names at the output root.
const (
	SitemapFile       = "sitemap.xml"
	RobotsFile        = "robots.txt"
	ServiceWorkerFile = "sw.js"
)

// SidecarSuffixes are the extensions of compressed companion files.
var SidecarSuffixes = []string{".gz", ".br", ".zst"}

// ErrUnsafeOutput is returned by Reset when deleting the output directory
// would destroy the source tree or the filesystem root.
var ErrUnsafeOutput = errors.New("refusing to clear output directory")

// Dir represents a build output directory.
type Dir struct {
	root string
}

// New creates a Dir rooted at root.
func New(root string) Dir {
	return Dir{root: root}
}

// Root returns the output directory path.
func (d Dir) Root() string {
	return d.root
}

// Path returns the absolute-or-relative path of rel (slash separated) inside the directory.
func (d Dir) Path(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

// Reset deletes the output directory recursively, if present, and recreates
// it empty. It refuses when the directory is the filesystem root or contains
// the source root. An output directory inside the source tree is refused
// unless one of its path elements below the source root is named in
// skipDirs, so that only directories the walker never reads are cleared.
func (d Dir) Reset(sourceRoot string, skipDirs []string) error {
	out, err := filepath.Abs(d.root)
	if err != nil {
		return fmt.Errorf("resolve output directory %s: %w", d.root, err)
	}
	src, err := filepath.Abs(sourceRoot)
	if err != nil {
		return fmt.Errorf("resolve source directory %s: %w", sourceRoot, err)
	}

	if filepath.Dir(out) == out {
		return fmt.Errorf("%w: %s is the filesystem root", ErrUnsafeOutput, out)
	}
	if contains(out, src) {
		return fmt.Errorf("%w: %s contains the source tree %s", ErrUnsafeOutput, out, src)
	}
	if contains(src, out) && !shielded(src, out, skipDirs) {
		return fmt.Errorf("%w: %s is part of the source tree %s; name it in exclude.dirs or move it outside",
			ErrUnsafeOutput, out, src)
	}

	if err := os.RemoveAll(out); err != nil {
		return fmt.Errorf("remove output directory %s: %w", out, err)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("create output directory %s: %w", out, err)
	}
	return nil
}

// shielded reports whether some element of out below src is in skipDirs.
func shielded(src, out string, skipDirs []string) bool {
	rel, err := filepath.Rel(src, out)
	if err != nil {
		return false
	}
	for _, name := range strings.Split(rel, string(filepath.Separator)) {
		if slices.Contains(skipDirs, name) {
			return true
		}
	}
	return false
}

// contains reports whether path equals dir or lies beneath it.
func contains(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Contains reports whether path lies inside the output directory.
func (d Dir) Contains(path string) bool {
	out, err := filepath.Abs(d.root)
	if err != nil {
		return false
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return contains(out, p)
}

// WriteFile atomically writes data to rel inside the directory.
func (d Dir) WriteFile(rel string, data []byte) error {
	return WriteFile(d.Path(rel), data)
}

// WriteFile atomically writes data to path, creating parent directories.
// A crash mid-write never leaves a partial file at path.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Stats summarises a finished output tree.
type Stats struct {
	Files    int   // every regular file, sidecars included
	Sidecars int   // compressed companions of another file
	Bytes    int64 // total size of all files
}

// Stats walks the directory and totals its files.
func (d Dir) Stats() (Stats, error) {
	var st Stats
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += info.Size()
		if IsSidecar(p) {
			st.Sidecars++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("scan output directory: %w", err)
	}
	return st, nil
}

// IsSidecar reports whether path is a compressed companion of a file that
// exists next to it.
func IsSidecar(path string) bool {
	base, ok := SidecarOf(path)
	if !ok {
		return false
	}
	info, err := os.Stat(base)
	return err == nil && info.Mode().IsRegular()
}

// SidecarOf strips a sidecar suffix from path.
func SidecarOf(path string) (string, bool) {
	for _, s := range SidecarSuffixes {
		if base, ok := strings.CutSuffix(path, s); ok && base != "" {
			return base, true
		}
	}
	return "", false
}

// ContentType returns the media type a host should serve name with.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// CacheControl returns the Cache-Control policy for name. Pages are
// revalidated on every load; assets may be cached for an hour.
func CacheControl(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "no-cache"
	default:
		return "public, max-age=3600"
	}
}
