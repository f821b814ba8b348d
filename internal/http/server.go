// Package http hosts the service's operational surface
// (/healthz, /readyz, /metrics) and the synchronous WiFi-scan
// ingestion front door.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/route-beacon/wifi-transformer/internal/measurement"
	"github.com/route-beacon/wifi-transformer/internal/scandata"
	"github.com/route-beacon/wifi-transformer/internal/transform"
)

// IngestStatus reports whether the queue-driven ingest loop has
// started successfully.
type IngestStatus interface {
	Ready() bool
}

// maxScanUploadBytes bounds the synchronous front door's request body;
// well above any single scan payload observed in practice.
const maxScanUploadBytes = 16 << 20

type Server struct {
	srv         *http.Server
	ingest      IngestStatus
	transformer *transform.Transformer
	publish     func(measurement.Measurement)
	batchID     func() string
	logger      *zap.Logger
}

// NewServer builds the HTTP server. publish is the concrete
// *publish.Publisher.Publish method value, wired in by
// cmd/wifi-transformer/main.go.
func NewServer(addr string, ingest IngestStatus, transformer *transform.Transformer, publish func(measurement.Measurement), batchID func() string, logger *zap.Logger) *Server {
	s := &Server{
		ingest:      ingest,
		transformer: transformer,
		publish:     publish,
		batchID:     batchID,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/v1/scans", s.handleScanUpload)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	if s.ingest != nil && s.ingest.Ready() {
		checks["ingest_loop"] = "ok"
	} else {
		checks["ingest_loop"] = "not_ready"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleScanUpload accepts a WiFi-scan JSON body directly, runs it
// through Parser -> Transformer -> Publisher inline (bypassing
// Decoder: there is no stored object to Base64/GZIP-decode), and
// responds 202 once records have been handed to the Publisher, the
// same latency contract as the queue path's ack-on-terminal-success
// rule.
func (s *Server) handleScanUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxScanUploadBytes))
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sd, err := scandata.Parse(string(body))
	if err != nil {
		s.logger.Warn("rejecting scan upload: parse failure", zap.Error(err))
		http.Error(w, "invalid scan payload", http.StatusBadRequest)
		return
	}

	batchID := s.batchID()
	measurements := s.transformer.Transform(sd, batchID)
	for _, m := range measurements {
		s.publish(m)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]int{"accepted_measurements": len(measurements)})
}
