// Package sidecar writes pre-compressed siblings (.gz, .br, .zst) next to
// output files so a static server can pick one by Accept-Encoding.
package sidecar

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"sitepack/internal/config"
	"sitepack/internal/logging"
	"sitepack/internal/outdir"
)

// Format pairs a Content-Encoding token with its file suffix.
type Format struct {
	Encoding string
	Suffix   string
}

// Formats lists the supported encodings, most preferred first.
var Formats = []Format{
	{Encoding: config.EncodingBrotli, Suffix: ".br"},
	{Encoding: config.EncodingZstd, Suffix: ".zst"},
	{Encoding: config.EncodingGzip, Suffix: ".gz"},
}

// SuffixFor returns the file suffix for encoding.
func SuffixFor(encoding string) (string, bool) {
	for _, f := range Formats {
		if f.Encoding == encoding {
			return f.Suffix, true
		}
	}
	return "", false
}

// Parse splits a sidecar path into the path of the file it encodes and its
// Content-Encoding. ok is false when path has no sidecar suffix.
func Parse(path string) (base, encoding string, ok bool) {
	for _, f := range Formats {
		if b, found := strings.CutSuffix(path, f.Suffix); found && b != "" {
			return b, f.Encoding, true
		}
	}
	return "", "", false
}

// Writer emits sidecars for outputs above the configured size threshold.
type Writer struct {
	minSize   int
	encodings []string
	logger    *slog.Logger
}

// New creates a Writer. Only cfg.MinSize and cfg.Encodings are consulted;
// whether a file is compressible at all is the caller's decision.
func New(cfg config.Compress, logger *slog.Logger) *Writer {
	return &Writer{
		minSize:   cfg.MinSize,
		encodings: cfg.Encodings,
		logger:    logging.Default(logger).With("component", "sidecar"),
	}
}

// Write encodes data with every configured encoding and writes dst+suffix
// for each. Nothing is written when len(data) <= MinSize.
//
// A failing encoder only loses its own sidecar: the paths that were written
// are returned together with the combined error of those that were not.
func (w *Writer) Write(dst string, data []byte) ([]string, error) {
	if len(data) <= w.minSize {
		return nil, nil
	}

	var (
		written []string
		errs    *multierror.Error
	)
	for _, enc := range w.encodings {
		suffix, ok := SuffixFor(enc)
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("unknown encoding %q", enc))
			continue
		}
		compressed, err := Encode(enc, data)
		if err != nil {
			w.logger.Warn("encode failed", "path", dst, "encoding", enc, "error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s %s: %w", enc, dst, err))
			continue
		}
		if err := outdir.WriteFile(dst+suffix, compressed); err != nil {
			w.logger.Warn("write failed", "path", dst+suffix, "error", err)
			errs = multierror.Append(errs, err)
			continue
		}
		written = append(written, dst+suffix)
	}
	return written, errs.ErrorOrNil()
}

// Encode compresses data with the named encoding at its best compression
// level. Output is deterministic: gzip headers carry no name or timestamp.
func Encode(encoding string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case config.EncodingGzip:
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case config.EncodingBrotli:
		bw := brotli.NewWriterLevel(&buf, brotli.BestCompression)
		if _, err := bw.Write(data); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
	case config.EncodingZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
	return buf.Bytes(), nil
}

// EncodeAll is safe for concurrent use, so one encoder serves every worker.
var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
})
