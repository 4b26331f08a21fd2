// Package api — HTTP API состояния governor (JSON) и /metrics для prometheus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kernelpoetlaureate/Predictive-CPU-Frequency-Scaling/internal/governor"
)

const shutdownTimeout = 5 * time.Second

// StatusSource — снимки состояния ядер
type StatusSource interface {
	Statuses() []governor.Status
	Status(cpu int) (governor.Status, bool)
}

// Server отдаёт /api/cores, /api/cores/{cpu}, /api/version и /metrics
type Server struct {
	src      StatusSource
	gatherer prometheus.Gatherer
	version  string
	logger   logr.Logger
}

// NewServer создаёт сервер; gatherer nil — без /metrics
func NewServer(src StatusSource, gatherer prometheus.Gatherer, version string, logger logr.Logger) *Server {
	return &Server{src: src, gatherer: gatherer, version: version, logger: logger.WithName("api")}
}

// Handler возвращает маршрутизатор API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cores", s.handleCores)
	mux.HandleFunc("/api/cores/", s.handleCore)
	mux.HandleFunc("/api/version", s.handleVersion)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Run слушает addr до отмены ctx
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve обслуживает listener до отмены ctx
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("http api listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("predictd\n"))
}

func (s *Server) handleCores(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, "cores", s.src.Statuses())
}

func (s *Server) handleCore(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	cpu, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/cores/"))
	if err != nil || cpu < 0 {
		writeJSON(w, http.StatusBadRequest, "error", "invalid cpu")
		return
	}
	st, ok := s.src.Status(cpu)
	if !ok {
		writeJSON(w, http.StatusNotFound, "error", "cpu "+strconv.Itoa(cpu)+" not managed")
		return
	}
	writeJSON(w, http.StatusOK, "core", st)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, "version", s.version)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	writeJSON(w, http.StatusMethodNotAllowed, "error", "method not allowed")
	return false
}

// Envelope — формат всех JSON-ответов API
type Envelope struct {
	Type string      `json:"type,omitempty"`
	Data interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, typ string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Type: typ, Data: data})
}
