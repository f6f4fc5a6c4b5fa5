// Package router wires the HTTP API together.
package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/NEXORA-Studios/NovaCL/api/v1"
	"github.com/NEXORA-Studios/NovaCL/internal/auth"
	"github.com/NEXORA-Studios/NovaCL/internal/service"
)

// Options holds the optional parts of the router.
type Options struct {
	// Token enables bearer authentication when non-empty.
	Token string
	// Events serves the event stream. Nil leaves /v1/events unrouted.
	Events http.Handler
	// Ready backs /readyz. Nil means always ready.
	Ready func(context.Context) error
}

const readyTimeout = 2 * time.Second

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, downloadSvc service.Download, opts Options) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", "err", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	downloadHandler := v1.NewDownloadHandler(logger, downloadSvc)

	r.Use(v1.RequestID)
	r.Use(downloadHandler.Log)
	r.Use(func(next http.Handler) http.Handler { return auth.Middleware(opts.Token, next) })

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/downloads", downloadHandler.GetDownloads)
	get.HandleFunc("/downloads/{id}", downloadHandler.GetDownload)
	get.HandleFunc("/downloads/{id}/progress", downloadHandler.GetProgress)
	if opts.Events != nil {
		get.Handle("/events", opts.Events)
	}

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.Handle("/downloads", v1.MiddlewareStartValidation(http.HandlerFunc(downloadHandler.AddDownload)))
	post.HandleFunc("/downloads/{id}/pause", downloadHandler.Pause)
	post.HandleFunc("/downloads/{id}/resume", downloadHandler.Resume)
	post.HandleFunc("/downloads/{id}/cancel", downloadHandler.Cancel)

	// PATCHes
	patch := api.Methods("PATCH").Subrouter()
	patch.HandleFunc("/downloads/{id}", downloadHandler.UpdateDownload)
	patch.Use(v1.MiddlewarePatchDesired)

	// DELETEs
	api.HandleFunc("/downloads/{id}", downloadHandler.DeleteDownload).Methods("DELETE")

	return r
}
