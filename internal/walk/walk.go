// Package walk enumerates the source files eligible for a build.
package walk

import (
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"sitepack/internal/config"
	"sitepack/internal/logging"
	"sitepack/internal/outdir"
)

// Entry is one eligible source file and the output path it maps to.
type Entry struct {
	Src string // source file path
	Dst string // output file path, same relative path under the output directory
	Rel string // slash-separated path relative to the source root
	Ext string // lower-cased extension including the dot, "" if none
}

// Walker traverses a source tree applying the configured exclusion rules.
type Walker struct {
	root     string
	out      outdir.Dir
	rules    config.Exclude
	reserved []string
	logger   *slog.Logger
}

// New creates a Walker over cfg.SourceDir that maps files into cfg.OutputDir.
func New(cfg *config.Config, logger *slog.Logger) *Walker {
	reserved := []string{outdir.SitemapFile, outdir.RobotsFile}
	if cfg.ServiceWorkerEnabled() {
		reserved = append(reserved, outdir.ServiceWorkerFile)
	}
	return &Walker{
		root:     cfg.SourceDir,
		out:      outdir.New(cfg.OutputDir),
		rules:    cfg.Exclude,
		reserved: reserved,
		logger:   logging.Default(logger).With("component", "walk"),
	}
}

// Files returns a lazy sequence of eligible files in lexical order. Every call
// starts a fresh traversal.
//
// Excluded directories and the output directory are never descended into.
// Files at the source root named like a generated file (sitemap.xml,
// robots.txt, and sw.js when the service worker is enabled) are skipped with
// a warning; the generated file takes their place. Nothing is created in the
// output directory.
//
// Traversal errors are yielded with a zero Entry; iteration continues with
// the next sibling unless the consumer stops.
func (w *Walker) Files() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		_ = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if !yield(Entry{}, err) {
					return fs.SkipAll
				}
				return nil
			}

			if d.IsDir() {
				if p == w.root {
					return nil
				}
				if w.DirExcluded(p) {
					w.logger.Debug("skipping directory", "path", p)
					return fs.SkipDir
				}
				return nil
			}

			if !isRegular(p, d) {
				return nil
			}

			rel, err := filepath.Rel(w.root, p)
			if err != nil {
				if !yield(Entry{}, err) {
					return fs.SkipAll
				}
				return nil
			}
			rel = filepath.ToSlash(rel)

			ext := strings.ToLower(filepath.Ext(p))
			if w.Excluded(rel) {
				w.logger.Debug("skipping file", "path", p)
				return nil
			}
			if slices.Contains(w.reserved, rel) {
				w.logger.Warn("skipping source file replaced by generated file", "path", p)
				return nil
			}

			if !yield(Entry{Src: p, Dst: w.out.Path(rel), Rel: rel, Ext: ext}, nil) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

// Excluded reports whether the file at rel (slash-separated, relative to the
// source root) is excluded by name, extension or pattern. Directory rules are
// applied as well, so a path under an excluded directory is excluded.
func (w *Walker) Excluded(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, dir := range parts[:len(parts)-1] {
		if slices.Contains(w.rules.Dirs, dir) {
			return true
		}
	}

	name := parts[len(parts)-1]
	if slices.Contains(w.rules.Files, name) {
		return true
	}
	if slices.Contains(w.rules.Keep, name) {
		return false
	}
	if slices.Contains(w.rules.Extensions, strings.ToLower(filepath.Ext(name))) {
		return true
	}
	for _, pattern := range w.rules.Patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// DirExcluded reports whether the directory at p is skipped entirely: it is
// the output directory, or its base name is an excluded directory name.
func (w *Walker) DirExcluded(p string) bool {
	if w.out.Contains(p) {
		return true
	}
	return slices.Contains(w.rules.Dirs, filepath.Base(p))
}

// Root returns the source root.
func (w *Walker) Root() string {
	return w.root
}

// isRegular reports whether p is a regular file, following symlinks.
func isRegular(p string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
