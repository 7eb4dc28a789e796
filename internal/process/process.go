// Package process turns one source file into its output file.
//
// Dispatch is by file-type group:
//
//	html, css, js   minified (minify)
//	images          optimised (imageopt), strict mode only
//	.json / .xml    minified when strict (files such as manifest.json survive exclusion)
//	anything else   copied byte for byte
//
// Failure policy:
//
//   - A minifier error in strict mode aborts that file: nothing is written
//     and the error is returned. Other files are unaffected.
//   - A minifier error in simple mode writes the original bytes and marks
//     the result Degraded.
//   - An image or JSON/XML error always writes the original bytes (Degraded).
//   - Read and write errors are returned.
//   - Sidecar failures are logged only; the output file itself is intact.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"sitepack/internal/config"
	"sitepack/internal/imageopt"
	"sitepack/internal/logging"
	"sitepack/internal/minify"
	"sitepack/internal/outdir"
	"sitepack/internal/sidecar"
	"sitepack/internal/walk"
)

// Result describes one processed file.
type Result struct {
	Group    string   // file-type group, "" for plain copies
	InBytes  int64    // source size
	OutBytes int64    // output size, sidecars excluded
	Sidecars []string // compressed companions written
	Degraded bool     // original bytes written because a transform failed
}

// Processor processes files for one build. It is safe for concurrent use.
type Processor struct {
	cfg      *config.Config
	minifier *minify.Minifier
	images   *imageopt.Optimizer
	sidecars *sidecar.Writer
	logger   *slog.Logger
}

// New creates a Processor.
func New(cfg *config.Config, m *minify.Minifier, images *imageopt.Optimizer, sidecars *sidecar.Writer, logger *slog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		minifier: m,
		images:   images,
		sidecars: sidecars,
		logger:   logging.Default(logger).With("component", "process"),
	}
}

// Process reads e.Src, transforms it according to its group and writes the
// result to e.Dst.
func (p *Processor) Process(ctx context.Context, e walk.Entry) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	src, err := os.ReadFile(e.Src)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", e.Rel, err)
	}

	group := p.cfg.GroupOf(e.Ext)
	res := Result{Group: group, InBytes: int64(len(src))}

	out, degraded, err := p.transform(group, e, src)
	if err != nil {
		return res, fmt.Errorf("minify %s: %w", e.Rel, err)
	}
	res.Degraded = degraded

	if err := outdir.WriteFile(e.Dst, out); err != nil {
		return res, err
	}
	res.OutBytes = int64(len(out))

	if p.cfg.Compressible(group) {
		written, err := p.sidecars.Write(e.Dst, out)
		if err != nil {
			p.logger.Warn("sidecars incomplete", "path", e.Rel, "error", err)
		}
		res.Sidecars = written
	}

	p.logger.Debug("processed", "path", e.Rel, "group", group,
		"in", res.InBytes, "out", res.OutBytes, "sidecars", len(res.Sidecars))
	return res, nil
}

func (p *Processor) transform(group string, e walk.Entry, src []byte) ([]byte, bool, error) {
	strict := p.cfg.Mode == config.ModeStrict

	switch group {
	case config.GroupHTML, config.GroupCSS, config.GroupJS:
		out, err := p.minifier.Minify(group, src)
		if err == nil {
			return out, false, nil
		}
		if strict {
			return nil, false, err
		}
		p.logger.Warn("minify failed, copying original", "path", e.Rel, "error", err)
		return src, true, nil

	case config.GroupImages:
		if !strict || !p.cfg.Images.Enabled {
			return src, false, nil
		}
		out, err := p.images.Optimize(e.Ext, src)
		if err != nil {
			p.logger.Warn("image optimisation failed, copying original", "path", e.Rel, "error", err)
			return src, true, nil
		}
		return out, false, nil
	}

	if media := structuredMedia(e.Ext); media != "" && strict {
		out, err := p.minifier.MinifyMedia(media, src)
		if err != nil {
			p.logger.Warn("minify failed, copying original", "path", e.Rel, "error", err)
			return src, true, nil
		}
		return out, false, nil
	}
	return src, false, nil
}

func structuredMedia(ext string) string {
	switch ext {
	case ".json", ".webmanifest":
		return minify.MediaJSON
	case ".xml":
		return minify.MediaXML
	}
	return ""
}
