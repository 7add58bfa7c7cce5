// SPDX-FileCopyrightText: 2026 The ycollab-go authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/ycollab/ycollab-go/doc"
	"github.com/ycollab/ycollab-go/provider"
)

// statusServer exposes the session's state over HTTP: GET /status for the
// connection, GET /peers for the awareness states.
type statusServer struct {
	p *provider.Provider
	d *doc.MemDoc

	srv *http.Server
}

func newStatusServer(listen string, p *provider.Provider, d *doc.MemDoc) *statusServer {
	s := &statusServer{p: p, d: d}

	router := mux.NewRouter()
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:    listen,
		Handler: router,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Status server errored")
		}
	}()

	return s
}

func (s *statusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, map[string]interface{}{
		"url":     s.p.URL(),
		"room":    s.p.Room(),
		"client":  s.d.ClientID(),
		"status":  s.p.Status().String(),
		"synced":  s.p.Synced(),
		"entries": s.d.Len(),
	})
}

func (s *statusServer) handlePeers(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, s.p.Awareness().States())
}

func (s *statusServer) respond(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Encoding status response errored")
	}
}

// Close the status server.
func (s *statusServer) Close() {
	if err := s.srv.Close(); err != nil {
		log.WithError(err).Warn("Closing status server errored")
	}
}
