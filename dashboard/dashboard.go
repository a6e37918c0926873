// Package dashboard exposes the orchestrator over HTTP: Prometheus metrics,
// the current connection state, and thin handlers for the public API.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"whatsapp-connector/connection"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the operational HTTP surface of the connector.
type Server struct {
	orch *connection.Orchestrator
	srv  *http.Server
	log  zerolog.Logger
}

// New builds the server for the given listen address.
func New(addr string, orch *connection.Orchestrator, log zerolog.Logger) *Server {
	s := &Server{
		orch: orch,
		log:  log.With().Str("component", "dashboard").Logger(),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/check", s.handleCheck)
	mux.HandleFunc("/modal/close", s.handleCloseModal)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("dashboard listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("dashboard server stopped")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeState(w)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.Connect(r.Context())
	s.writeState(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.Disconnect(r.Context())
	s.writeState(w)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	showLoading := r.URL.Query().Get("loading") == "1"
	s.orch.CheckStatus(r.Context(), showLoading)
	s.writeState(w)
}

func (s *Server) handleCloseModal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.orch.CloseModal()
	s.writeState(w)
}

func (s *Server) writeState(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.orch.State()); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode state")
	}
}
