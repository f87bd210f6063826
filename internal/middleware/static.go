package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderCoverSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 300"><rect width="200" height="300" fill="#f0f0f0"/><path d="M60 70h80v130H60z" fill="none" stroke="#999" stroke-width="6"/><path d="M100 70v130" stroke="#999" stroke-width="4"/><text x="100" y="240" text-anchor="middle" font-family="Arial" font-size="14" fill="#666">NO COVER</text></svg>`

// CoverFileServer serves book cover images from dir, falling back to a
// placeholder SVG when the file does not exist.
func CoverFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderCoverSVG))
	})
}
