// Package web embeds the browser widget that renders a challenge and posts
// the resulting proof token back to the embedding page.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

// Prefix is the URL prefix the widget is mounted under.
const Prefix = "/captcha/"

//go:embed static
var staticFS embed.FS

// WidgetHandler serves the embedded widget files. Any path that is not a
// file, such as /captcha/<challenge_id>, gets index.html; the script reads
// the challenge id from the path.
func WidgetHandler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.StripPrefix(strings.TrimSuffix(Prefix, "/"), http.FileServer(http.FS(subFS)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, Prefix)
		if name != "" && !strings.Contains(name, "/") {
			if f, err := subFS.Open(name); err == nil {
				if closeErr := f.Close(); closeErr != nil {
					slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
				}
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Cache-Control", "no-store")
		http.ServeFileFS(w, r, subFS, "index.html")
	})
}
