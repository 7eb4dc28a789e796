// Package minify shrinks text assets.
//
// Strict mode is syntax-aware: HTML, SVG, JSON and XML go through
// tdewolff/minify, stand-alone CSS and JS files through esbuild. Simple mode
// is a best-effort textual transform kept for sites whose markup the strict
// minifiers reject.
//
// Whatever the mode, a minified result is never longer than its input.
package minify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/tdewolff/minify/v2/xml"

	"sitepack/internal/config"
)

// ErrUnsupported is returned for a group or media type with no minifier.
var ErrUnsupported = errors.New("no minifier")

// Media types understood by MinifyMedia.
const (
	MediaHTML = "text/html"
	MediaCSS  = "text/css"
	MediaJS   = "application/javascript"
	MediaSVG  = "image/svg+xml"
	MediaJSON = "application/json"
	MediaXML  = "application/xml"
)

var jsMediaTypes = regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`)

// Minifier minifies HTML, CSS and JS according to a build mode.
// It is safe for concurrent use.
type Minifier struct {
	mode string
	m    *minify.M
}

// New returns a Minifier for mode (config.ModeStrict or config.ModeSimple).
func New(mode string) (*Minifier, error) {
	if mode != config.ModeStrict && mode != config.ModeSimple {
		return nil, fmt.Errorf("unknown minify mode %q", mode)
	}

	m := minify.New()
	m.Add(MediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
	})
	// Inline <style> and <script> inside HTML documents.
	m.AddFunc(MediaCSS, css.Minify)
	m.AddFuncRegexp(jsMediaTypes, js.Minify)
	m.AddFunc(MediaSVG, svg.Minify)
	m.AddFunc(MediaJSON, json.Minify)
	m.AddFunc(MediaXML, xml.Minify)

	return &Minifier{mode: mode, m: m}, nil
}

// Mode returns the build mode the Minifier was created for.
func (mi *Minifier) Mode() string {
	return mi.mode
}

// Minify minifies src as a stand-alone file of the given file-type group
// (config.GroupHTML, GroupCSS or GroupJS).
func (mi *Minifier) Minify(group string, src []byte) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch {
	case mi.mode == config.ModeSimple && group == config.GroupHTML:
		out = simpleHTML(src)
	case mi.mode == config.ModeSimple && group == config.GroupCSS:
		out = simpleCSS(src)
	case mi.mode == config.ModeSimple && group == config.GroupJS:
		out = simpleJS(src)
	case group == config.GroupHTML:
		out, err = mi.m.Bytes(MediaHTML, src)
	case group == config.GroupCSS:
		out, err = transform(src, api.LoaderCSS)
	case group == config.GroupJS:
		out, err = transform(src, api.LoaderJS)
	default:
		return nil, fmt.Errorf("%w for group %q", ErrUnsupported, group)
	}
	if err != nil {
		return nil, err
	}
	return shorter(out, src), nil
}

// MinifyMedia minifies src by media type with the syntax-aware minifiers,
// regardless of mode. It covers SVG, JSON and XML as well as the text types.
func (mi *Minifier) MinifyMedia(mediaType string, src []byte) ([]byte, error) {
	out, err := mi.m.Bytes(mediaType, src)
	if errors.Is(err, minify.ErrNotExist) {
		return nil, fmt.Errorf("%w for %s", ErrUnsupported, mediaType)
	}
	if err != nil {
		return nil, err
	}
	return shorter(out, src), nil
}

// transform runs esbuild over a single CSS or JS file.
func transform(src []byte, loader api.Loader) ([]byte, error) {
	opts := api.TransformOptions{
		Loader:           loader,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		Charset:          api.CharsetUTF8,
		LogLevel:         api.LogLevelSilent,
	}
	if loader == api.LoaderJS {
		opts.MinifyIdentifiers = true
	}

	res := api.Transform(string(src), opts)
	if len(res.Errors) > 0 {
		return nil, transformError(res.Errors)
	}
	return res.Code, nil
}

func transformError(msgs []api.Message) error {
	first := msgs[0]
	if loc := first.Location; loc != nil {
		return fmt.Errorf("line %d col %d: %s", loc.Line, loc.Column, first.Text)
	}
	return errors.New(first.Text)
}

// shorter returns out unless it grew past src.
func shorter(out, src []byte) []byte {
	if len(out) > len(src) {
		return src
	}
	return out
}

var (
	htmlComment   = regexp.MustCompile(`<!--[\s\S]*?-->`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	betweenTags   = regexp.MustCompile(`>\s+<`)

	cssComment     = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	cssPunctuation = regexp.MustCompile(`\s*([{}|:;,])\s*`)
	cssImportant   = regexp.MustCompile(`\s*!important`)

	jsComment      = regexp.MustCompile(`(?m)/\*[\s\S]*?\*/|([^\\:]|^)//.*$`)
	jsOperators    = regexp.MustCompile(`\s*([=+\-*/%!&|^~<>?;:,{}()\[\]])\s*`)
	jsAfterSyntax  = regexp.MustCompile(`([;{}\[\](),])\s+`)
	jsBeforeSyntax = regexp.MustCompile(`\s+([;{}\[\](),])`)
)

func simpleHTML(src []byte) []byte {
	out := htmlComment.ReplaceAll(src, nil)
	out = whitespaceRun.ReplaceAll(out, []byte(" "))
	return betweenTags.ReplaceAll(out, []byte("><"))
}

func simpleCSS(src []byte) []byte {
	out := cssComment.ReplaceAll(src, nil)
	out = whitespaceRun.ReplaceAll(out, []byte(" "))
	out = cssPunctuation.ReplaceAll(out, []byte("${1}"))
	s := strings.ReplaceAll(string(out), ";}", "}")
	s = cssImportant.ReplaceAllString(s, "!important")
	return []byte(strings.TrimSpace(s))
}

// simpleJS strips comments and whitespace textually. It does not understand
// string or regex literals, which is why strict mode exists.
func simpleJS(src []byte) []byte {
	out := jsComment.ReplaceAll(src, []byte("${1}"))
	out = whitespaceRun.ReplaceAll(out, []byte(" "))
	out = jsOperators.ReplaceAll(out, []byte("${1}"))
	out = jsAfterSyntax.ReplaceAll(out, []byte("${1}"))
	out = jsBeforeSyntax.ReplaceAll(out, []byte("${1}"))
	return []byte(strings.TrimSpace(string(out)))
}
