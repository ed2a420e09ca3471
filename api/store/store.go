// Package store serves the client-facing directory endpoint of a worker.
// Reads answer from the local replica only. Writes are forwarded to the
// coordinator and go through a full round before the answer is written.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/microblog-uds/core/directory"
	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

const (
	keyString   = "username"
	valueString = "IP address"
)

// Reader is the local replica the endpoint reads from.
type Reader interface {
	Get(key string) (directory.Record, bool)
	Snapshot() map[string]directory.Record
}

// Starter runs a write through the coordinator.
type Starter interface {
	Start(ctx context.Context, key, value string) (transaction.Response, error)
}

// Option configures a StoreServer.
type Option func(*StoreServer)

// WithRateLimit admits at most limit writes per second with the given burst.
// A zero limit leaves writes unthrottled.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *StoreServer) {
		if limit <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// StoreServer implements GET and PUT on /store and GET on /store/all.
type StoreServer struct {
	Replica Reader
	Starter Starter
	Logger  *zap.Logger

	limiter *rate.Limiter
}

// NewStoreServer creates a StoreServer reading from replica and writing through starter.
func NewStoreServer(replica Reader, starter Starter, logger *zap.Logger, opts ...Option) *StoreServer {
	s := &StoreServer{
		Replica: replica,
		Starter: starter,
		Logger:  logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandlers mounts the store endpoints. /store/all is registered
// first so it is not taken for a key lookup.
func (s *StoreServer) RegisterHandlers(r *mux.Router) {
	r.HandleFunc("/store/all", s.handleAll).Methods(http.MethodGet)
	for _, path := range []string{"/store", "/store/"} {
		r.HandleFunc(path, s.handleGet).Methods(http.MethodGet)
		r.HandleFunc(path, s.handlePut).Methods(http.MethodPut)
	}
}

func (s *StoreServer) handleAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, transaction.AllResponse{
		Data:    s.Replica.Snapshot(),
		Success: true,
		Msg:     fmt.Sprintf("Retrieved all %s's", valueString),
	})
}

// handleGet answers with the raw record, {} when the key is unknown. The key
// comes from the JSON body or, failing that, the key query parameter.
func (s *StoreServer) handleGet(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.Key == "" {
		req.Key = r.URL.Query().Get("key")
	}
	if req.Key == "" {
		writeJSON(w, http.StatusOK, transaction.Response{Success: false, Msg: fmt.Sprintf("Empty %s on request", keyString)})
		return
	}
	rec, _ := s.Replica.Get(req.Key)
	writeJSON(w, http.StatusOK, rec)
}

func (s *StoreServer) handlePut(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusOK, transaction.Response{Success: false, Msg: fmt.Sprintf("Empty %s on request", keyString)})
		return
	}
	if req.Value == "" {
		writeJSON(w, http.StatusOK, transaction.Response{Success: false, Msg: fmt.Sprintf("Empty %s on PUT request", valueString)})
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, transaction.Response{Success: false, Msg: "Too many PUT requests, retry later"})
		return
	}

	log := logger.For(r.Context(), s.Logger).With(zap.String("key", req.Key))
	resp, err := s.Starter.Start(r.Context(), req.Key, req.Value)
	if err != nil {
		log.Error("Forwarding write to coordinator failed", zap.Error(err))
		resp = transaction.Response{Success: false, Msg: fmt.Sprintf("Write not applied: %v", err)}
	} else {
		log.Info("Write resolved", zap.Bool("success", resp.Success), zap.String("msg", resp.Msg))
	}

	rec, _ := s.Replica.Get(req.Key)
	writeJSON(w, http.StatusOK, transaction.PutResponse{Data: rec, Success: resp.Success, Msg: resp.Msg})
}

// decode reads an optional JSON StoreRequest. An empty body decodes to the zero request.
func (s *StoreServer) decode(w http.ResponseWriter, r *http.Request) (transaction.StoreRequest, bool) {
	var req transaction.StoreRequest
	body, err := io.ReadAll(r.Body)
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid request body: %v", err)})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
