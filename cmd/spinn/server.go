package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/BenJamesbabala/spinn/internal/encoder"
)

var (
	encodeRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spinn_encode_requests_total",
		Help: "The total number of encode requests served",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spinn_request_duration_seconds",
		Help:    "Time spent processing encode requests",
		Buckets: prometheus.DefBuckets,
	})
)

// RootPublisher forwards encoded roots to a vector store.
type RootPublisher interface {
	Publish(ctx context.Context, dataset string, ids []int64, roots [][]float32) error
	Close() error
}

type Server struct {
	enc       *encoder.Encoder
	publisher RootPublisher
	dataset   string
	sem       *semaphore.Weighted

	mu     sync.Mutex // guards nextID
	nextID int64
}

func NewServer(enc *encoder.Encoder, pub RootPublisher, dataset string, maxConcurrent int) *Server {
	return &Server{
		enc:       enc,
		publisher: pub,
		dataset:   dataset,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, srv *Server) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/encode", srv.handleEncode)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	if srv.publisher != nil {
		log.Info().Str("dataset", srv.dataset).Msg("Forwarding roots to vector store")
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var serverTracer = otel.Tracer("spinn-server")

// handleEncode reads a CBOR array of examples, evaluates them and
// responds with a CBOR array of root vectors in input order.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := serverTracer.Start(r.Context(), "handleEncode")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()
	encodeRequests.Inc()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var examples []encoder.Example
	if err := cbor.NewDecoder(r.Body).Decode(&examples); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	if len(examples) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	span.SetAttributes(attribute.Int("example_count", len(examples)))

	// Admission control.
	weight := int64(len(examples))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	roots, err := s.enc.EncodeBatch(ctx, examples)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Encoding failed: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ids := make([]int64, len(roots))
	for i := range ids {
		ids[i] = s.nextID
		s.nextID++
	}
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, s.dataset, ids, roots); err != nil {
			log.Error().Err(err).Msg("Error forwarding roots to vector store")
		}
	}

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(roots); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
