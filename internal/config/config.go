// Package config holds the build configuration for sitepack.
//
// A Config is constructed once at startup (Default or Load) and passed by
// pointer to every component. Nothing in the pipeline mutates it afterwards,
// and there is no package-level configuration state.
//
// Sources, in order:
//
//	defaults.toml   (embedded, always loaded)
//	--config <file> (optional TOML overlay)
//
// The build never reads environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

//go:embed defaults.toml
var defaultsTOML []byte

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Minification modes.
const (
	// ModeStrict uses syntax-aware minifiers, compression and the service worker.
	ModeStrict = "strict"
	// ModeSimple uses best-effort regex minification.
	ModeSimple = "simple"
)

// File-type group names with dedicated processing.
const (
	GroupHTML   = "html"
	GroupCSS    = "css"
	GroupJS     = "js"
	GroupImages = "images"
	GroupFonts  = "fonts"
)

// Supported sidecar encodings.
const (
	EncodingGzip   = "gzip"
	EncodingBrotli = "br"
	EncodingZstd   = "zstd"
)

// Config is the full build configuration.
type Config struct {
	SourceDir string `koanf:"source_dir"`
	OutputDir string `koanf:"output_dir"`
	Mode      string `koanf:"mode"`
	Workers   int    `koanf:"workers"`

	Exclude       Exclude             `koanf:"exclude"`
	FileTypes     map[string][]string `koanf:"file_types"`
	Compress      Compress            `koanf:"compress"`
	Images        Images              `koanf:"images"`
	Site          Site                `koanf:"site"`
	ServiceWorker ServiceWorker       `koanf:"service_worker"`
}

// Exclude lists the traversal exclusion rules.
type Exclude struct {
	Dirs       []string `koanf:"dirs"`       // directory base names; subtree skipped
	Files      []string `koanf:"files"`      // file base names
	Extensions []string `koanf:"extensions"` // lower-case, with leading dot
	Keep       []string `koanf:"keep"`       // base names exempt from Extensions and Patterns
	Patterns   []string `koanf:"patterns"`   // doublestar globs on slash-separated relative paths
}

// Compress configures the sidecar stage.
type Compress struct {
	Enabled   bool     `koanf:"enabled"`
	MinSize   int      `koanf:"min_size"` // sidecars only when len > MinSize
	Groups    []string `koanf:"groups"`
	Encodings []string `koanf:"encodings"`
}

// Images configures raster/vector optimisation.
type Images struct {
	Enabled     bool `koanf:"enabled"`
	JPEGQuality int  `koanf:"jpeg_quality"`
	PNGColors   int  `koanf:"png_colors"`
}

// Site describes the published site for the sitemap and robots.txt.
type Site struct {
	BaseURL    string   `koanf:"base_url"`
	Pages      []string `koanf:"pages"`
	ChangeFreq string   `koanf:"changefreq"`
	Priority   string   `koanf:"priority"`
}

// ServiceWorker configures sw.js generation.
type ServiceWorker struct {
	Enabled   bool     `koanf:"enabled"`
	CacheName string   `koanf:"cache_name"`
	Precache  []string `koanf:"precache"`
}

var tomlParser = toml.Parser()

// Default returns the embedded configuration.
func Default() (*Config, error) {
	return Load("")
}

// Load reads the embedded defaults and, if path is non-empty, overlays the
// TOML file at path. The result is normalised and validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsTOML), tomlParser); err != nil {
		return nil, fmt.Errorf("parse built-in defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), tomlParser); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Exclude.Extensions = normalizeExts(c.Exclude.Extensions)
	for group, exts := range c.FileTypes {
		c.FileTypes[group] = normalizeExts(exts)
	}
	c.Site.BaseURL = strings.TrimRight(c.Site.BaseURL, "/")
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("%w: source_dir is empty", ErrInvalid)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is empty", ErrInvalid)
	}
	if c.Mode != ModeStrict && c.Mode != ModeSimple {
		return fmt.Errorf("%w: mode %q (want %q or %q)", ErrInvalid, c.Mode, ModeStrict, ModeSimple)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalid, c.Workers)
	}

	for _, p := range c.Exclude.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: malformed exclude pattern %q", ErrInvalid, p)
		}
	}

	owner := make(map[string]string)
	for group, exts := range c.FileTypes {
		for _, ext := range exts {
			if prev, ok := owner[ext]; ok && prev != group {
				return fmt.Errorf("%w: extension %s is in both %q and %q", ErrInvalid, ext, prev, group)
			}
			owner[ext] = group
		}
	}

	if c.Compress.MinSize < 0 {
		return fmt.Errorf("%w: compress.min_size must be >= 0", ErrInvalid)
	}
	for _, enc := range c.Compress.Encodings {
		switch enc {
		case EncodingGzip, EncodingBrotli, EncodingZstd:
		default:
			return fmt.Errorf("%w: unknown compress encoding %q", ErrInvalid, enc)
		}
	}

	if c.Images.JPEGQuality < 1 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("%w: images.jpeg_quality must be in 1..100, got %d", ErrInvalid, c.Images.JPEGQuality)
	}
	if c.Images.PNGColors < 2 || c.Images.PNGColors > 256 {
		return fmt.Errorf("%w: images.png_colors must be in 2..256, got %d", ErrInvalid, c.Images.PNGColors)
	}

	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: site.base_url %q is not an absolute http(s) URL", ErrInvalid, c.Site.BaseURL)
	}
	return nil
}

// GroupOf returns the file-type group that claims ext, or "" if none does.
// ext is matched case-insensitively.
func (c *Config) GroupOf(ext string) string {
	ext = strings.ToLower(ext)
	for group, exts := range c.FileTypes {
		if slices.Contains(exts, ext) {
			return group
		}
	}
	return ""
}

// Compressible reports whether outputs of group get sidecars.
func (c *Config) Compressible(group string) bool {
	return c.Compress.Enabled && group != "" && slices.Contains(c.Compress.Groups, group)
}

// ServiceWorkerEnabled reports whether sw.js is generated. Only strict builds
// emit it.
func (c *Config) ServiceWorkerEnabled() bool {
	return c.Mode == ModeStrict && c.ServiceWorker.Enabled
}

// SitemapURL is the absolute URL of sitemap.xml on the published site.
func (c *Config) SitemapURL() string {
	return c.Site.BaseURL + "/sitemap.xml"
}
