package http

import (
	"embed"
	"io/fs"
	stdhttp "net/http"
)

//go:embed static
var staticFiles embed.FS

func staticHandler() stdhttp.Handler {
	return stdhttp.FileServerFS(staticFiles)
}

func robotsHandler(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	body, err := fs.ReadFile(staticFiles, "static/robots.txt")
	if err != nil {
		w.WriteHeader(stdhttp.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(body)
}
