package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

// RegisterHandlers mounts the worker endpoints under /worker.
func (w *Worker) RegisterHandlers(r *mux.Router) {
	r.HandleFunc("/worker/prepare", w.handlePrepare).Methods(http.MethodPost)
	r.HandleFunc("/worker/commit", w.handleCommit).Methods(http.MethodPost)
	r.HandleFunc("/worker/rollback", w.handleRollback).Methods(http.MethodPost)
}

func (w *Worker) handlePrepare(rw http.ResponseWriter, r *http.Request) {
	var req transaction.PrepareRequest
	if !decode(rw, r, &req) {
		return
	}
	span := w.startSpan(r, "worker.prepare", req.TxnID)
	defer span.End()

	tx := transaction.Transaction{ID: req.TxnID, Key: req.Key, Value: req.Value}
	if err := transaction.Validate(req.Key, req.Value); err != nil {
		writeResponse(rw, http.StatusOK, transaction.Response{Success: false, Msg: err.Error()})
		return
	}
	if _, err := w.Prepare(tx); err != nil {
		if !errors.Is(err, transaction.ErrVoteRejected) {
			logger.For(r.Context(), w.logger).Error("Prepare failed", zap.Uint64("tid", req.TxnID), zap.Error(err))
		}
		writeResponse(rw, http.StatusOK, transaction.Response{Success: false, Msg: fmt.Sprintf("Refused transaction %d: %v", req.TxnID, err)})
		return
	}
	writeResponse(rw, http.StatusOK, transaction.Response{Success: true, Msg: fmt.Sprintf("Prepared transaction %d", req.TxnID)})
}

func (w *Worker) handleCommit(rw http.ResponseWriter, r *http.Request) {
	var req transaction.CommitRequest
	if !decode(rw, r, &req) {
		return
	}
	span := w.startSpan(r, "worker.commit", req.TxnID)
	defer span.End()

	res := w.Commit(req.TxnID)
	span.SetAttributes(attribute.Bool("uds.unknown_tid", res.Unknown()))
	writeResponse(rw, http.StatusOK, transaction.Response{Success: true, Msg: fmt.Sprintf("Committed transaction %d", req.TxnID)})
}

func (w *Worker) handleRollback(rw http.ResponseWriter, r *http.Request) {
	var req transaction.RollbackRequest
	if !decode(rw, r, &req) {
		return
	}
	span := w.startSpan(r, "worker.rollback", req.TxnID)
	defer span.End()

	res := w.Rollback(req.TxnID, req.Key)
	span.SetAttributes(
		attribute.Bool("uds.unknown_tid", res.Unknown()),
		attribute.Bool("uds.reverted", res.Reverted),
	)
	writeResponse(rw, http.StatusOK, transaction.Response{Success: true, Msg: fmt.Sprintf("Rolled back transaction %d", req.TxnID)})
}

func (w *Worker) startSpan(r *http.Request, name string, tid uint64) trace.Span {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	_, span := w.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("uds.tid", int64(tid))))
	return span
}

func decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeResponse(rw, http.StatusBadRequest, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid request body: %v", err)})
		return false
	}
	return true
}

func writeResponse(rw http.ResponseWriter, status int, resp transaction.Response) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(resp)
}
