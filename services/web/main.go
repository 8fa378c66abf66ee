// Web tier: serves the built frontend bundle and proxies the realtime
// channel-join handshake to the API service, which owns membership data.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/projectdesk/internal/config"
	"github.com/projectdesk/internal/handler"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
)

func main() {
	logger.SetPrefix("web")
	logger.Info("starting web service")
	cfg := config.Load()

	authBase := cfg.BroadcastAuthURL
	if authBase == "" {
		authBase = cfg.APIServiceURL
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.HandleFunc("/broadcasting/auth", handler.BroadcastAuthProxy(authBase))

	if info, err := os.Stat(cfg.WebDistDir); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(cfg.WebDistDir))
	} else {
		logger.Infof("web dist dir %s not found, serving API endpoints only", cfg.WebDistDir)
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("web server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("web server: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("web server shutdown: %v", err)
	}
	logger.Info("web server stopped")
}

// spaHandler serves static assets and falls back to index.html for
// client-side routes.
func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}
