// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminRouter serves the operator endpoints. gatherer is normally the
// registry the orchestrator's collectors were registered with.
func (o *Orchestrator) adminRouter(gatherer prometheus.Gatherer) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/jobs", o.handleJobs)
	router.Get("/jobs/{fingerprint}", o.handleJob)

	router.Route("/debug/pprof", func(debug chi.Router) {
		debug.HandleFunc("/", pprof.Index)
		debug.HandleFunc("/cmdline", pprof.Cmdline)
		debug.HandleFunc("/profile", pprof.Profile)
		debug.HandleFunc("/symbol", pprof.Symbol)
		debug.HandleFunc("/trace", pprof.Trace)
		debug.HandleFunc("/{profile}", pprof.Index)
	})

	return router
}

func (o *Orchestrator) handleJobs(w http.ResponseWriter, r *http.Request) {
	o.reap(r.Context())
	writeJSON(w, http.StatusOK, o.queue.Snapshot())
}

func (o *Orchestrator) handleJob(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	o.reap(r.Context())
	for _, summary := range o.queue.Snapshot() {
		if summary.Fingerprint == fingerprint {
			writeJSON(w, http.StatusOK, summary)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no job with fingerprint " + fingerprint})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
