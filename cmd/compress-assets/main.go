// Command compress-assets writes compressed sidecars (.br, .gz, ...) next to
// every compressible file in an existing directory, using the built-in
// sitepack configuration. Originals are kept. Useful for trees produced by
// other tools that should be served by the same static host.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sitepack/internal/config"
	"sitepack/internal/outdir"
	"sitepack/internal/sidecar"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: compress-assets <dir>\n")
		os.Exit(1)
	}

	n, err := compressTree(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "compress-assets: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "wrote %d sidecars\n", n)
}

// compressTree writes sidecars for dir and returns how many were written.
func compressTree(dir string) (int, error) {
	cfg, err := config.Default()
	if err != nil {
		return 0, err
	}

	// Collect files first (avoid walking while mutating).
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || outdir.IsSidecar(path) {
			return nil
		}
		if cfg.Compressible(cfg.GroupOf(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk: %w", err)
	}

	w := sidecar.New(cfg.Compress, nil)
	var written int
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return written, err
		}
		paths, err := w.Write(path, data)
		written += len(paths)
		if err != nil {
			return written, fmt.Errorf("compress %s: %w", path, err)
		}
	}
	return written, nil
}
