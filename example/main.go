package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/tagmark/tagmark/tagmark"
)

func LoggerMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("HTTP request", "method", r.Method, "url", r.URL)
		next.ServeHTTP(w, r)
	})
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	h := &tagmark.Handler{
		FileSystem: os.DirFS("./site"),
		Logger:     logger,
		OnError: func(r *http.Request, err error) {
			logger.Error("request failed", "url", r.URL.Redacted(), "error", err)
		},
	}

	logger.Info("Starting HTTP server", "address", "http://localhost:8080")

	err := http.ListenAndServe(":8080", LoggerMiddleware(h, logger))
	logger.Error("HTTP server error", "error", err)
}
