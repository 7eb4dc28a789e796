// Package preview serves a build output directory over HTTP the way a
// production static host would: pre-compressed sidecars are chosen by
// Accept-Encoding and never exposed under their own names.
package preview

import (
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"sitepack/internal/outdir"
	"sitepack/internal/sidecar"
)

const notFoundPage = "404.html"

type staticHandler struct {
	fs fs.FS
}

// Handler returns an http.Handler serving fsys. The file system is consulted
// on every request, so a rebuild is visible without restarting.
func Handler(fsys fs.FS) http.Handler {
	return &staticHandler{fs: fsys}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, ok := h.resolve(r.URL.Path)
	if !ok {
		h.notFound(w, r)
		return
	}

	w.Header().Set("Vary", "Accept-Encoding")
	w.Header().Set("Content-Type", outdir.ContentType(p))
	w.Header().Set("Cache-Control", outdir.CacheControl(p))

	ae := r.Header.Get("Accept-Encoding")
	for _, f := range sidecar.Formats {
		if !acceptsEncoding(ae, f.Encoding) {
			continue
		}
		data, err := fs.ReadFile(h.fs, p+f.Suffix)
		if err != nil {
			continue
		}
		w.Header().Set("Content-Encoding", f.Encoding)
		h.write(w, r, http.StatusOK, data)
		return
	}

	data, err := fs.ReadFile(h.fs, p)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.write(w, r, http.StatusOK, data)
}

// resolve maps a URL path to a regular file in the FS. Directories map to
// their index.html; sidecars of existing files do not resolve.
func (h *staticHandler) resolve(urlPath string) (string, bool) {
	p := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if p == "" {
		p = "index.html"
	}
	if !fs.ValidPath(p) {
		return "", false
	}

	info, err := fs.Stat(h.fs, p)
	if err == nil && info.IsDir() {
		p = path.Join(p, "index.html")
		info, err = fs.Stat(h.fs, p)
	}
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	if base, _, ok := sidecar.Parse(p); ok {
		if bi, err := fs.Stat(h.fs, base); err == nil && bi.Mode().IsRegular() {
			return "", false
		}
	}
	return p, true
}

func (h *staticHandler) notFound(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.fs, notFoundPage)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	h.write(w, r, http.StatusNotFound, data)
}

func (h *staticHandler) write(w http.ResponseWriter, r *http.Request, status int, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// acceptsEncoding checks whether the Accept-Encoding header includes the
// given encoding with a non-zero quality.
func acceptsEncoding(header, encoding string) bool {
	for _, part := range strings.Split(header, ",") {
		enc, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(enc) != encoding {
			continue
		}
		return !refused(params)
	}
	return false
}

// refused reports whether an Accept-Encoding parameter list sets q=0.
func refused(params string) bool {
	for _, param := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}
