package server

import (
	_ "embed"
	"net/http"
)

//go:embed static/overlay.html
var overlayHTML []byte

const indexHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>chatfeed</title></head>
<body>
<h1>chatfeed</h1>
<p>Add <a href="/overlay">/overlay</a> as a browser source.</p>
<ul>
<li><a href="/api/messages">/api/messages</a></li>
<li><a href="/api/latest">/api/latest</a></li>
<li><a href="/health">/health</a></li>
</ul>
</body>
</html>
`

// HandleOverlay serves the transparent chat overlay page.
func (h *Handlers) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(overlayHTML)
}

// HandleIndex links to the overlay.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}
