// Package generate renders the files a build derives rather than copies:
// sitemap.xml, robots.txt and the service worker.
package generate

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"text/template"
	"time"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// PageURL returns the absolute URL of the page with the given slug. The empty
// slug is the home page.
func PageURL(baseURL, slug string) string {
	if slug == "" {
		return baseURL + "/index.html"
	}
	return baseURL + "/" + slug + ".html"
}

// Sitemap renders a sitemap listing one URL per page slug, all stamped with
// date (UTC, day precision).
func Sitemap(baseURL string, pages []string, date time.Time, changefreq, priority string) []byte {
	lastmod := date.UTC().Format(time.DateOnly)

	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, "<urlset xmlns=%q>\n", sitemapNS)
	for _, page := range pages {
		b.WriteString("  <url>\n")
		b.WriteString("    <loc>")
		_ = xml.EscapeText(&b, []byte(PageURL(baseURL, page)))
		b.WriteString("</loc>\n")
		fmt.Fprintf(&b, "    <lastmod>%s</lastmod>\n", lastmod)
		b.WriteString("    <changefreq>")
		_ = xml.EscapeText(&b, []byte(changefreq))
		b.WriteString("</changefreq>\n")
		b.WriteString("    <priority>")
		_ = xml.EscapeText(&b, []byte(priority))
		b.WriteString("</priority>\n")
		b.WriteString("  </url>\n")
	}
	b.WriteString("</urlset>")
	return b.Bytes()
}

// Robots renders a robots.txt that allows everything and points at the
// sitemap.
func Robots(sitemapURL string) []byte {
	return []byte(strings.Join([]string{
		"# https://www.robotstxt.org/robotstxt.html",
		"User-agent: *",
		"Allow: /",
		"",
		"Sitemap: " + sitemapURL,
	}, "\n"))
}

var swTemplate = template.Must(template.New("sw.js").Funcs(template.FuncMap{
	"js": jsString,
}).Parse(`const CACHE_NAME = {{ js .CacheName }};
const urlsToCache = [
{{- range .URLs }}
  {{ js . }},
{{- end }}
];

self.addEventListener('install', event => {
  event.waitUntil(
    caches.open(CACHE_NAME)
      .then(cache => cache.addAll(urlsToCache))
  );
});

self.addEventListener('fetch', event => {
  event.respondWith(
    caches.match(event.request)
      .then(response => response || fetch(event.request))
  );
});
`))

// ServiceWorker renders a cache-first service worker that precaches urls
// into cacheName on install.
func ServiceWorker(cacheName string, urls []string) ([]byte, error) {
	var b bytes.Buffer
	err := swTemplate.Execute(&b, struct {
		CacheName string
		URLs      []string
	}{cacheName, urls})
	if err != nil {
		return nil, fmt.Errorf("render service worker: %w", err)
	}
	return b.Bytes(), nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
