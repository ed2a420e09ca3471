// Package worker implements the replica side of the directory's two-phase
// commit. Writes are applied eagerly at prepare time and the undo log records
// how to back them out; a rollback only reverts a key that still holds the
// value its own prepare wrote.
package worker

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/directory"
	"github.com/sushant-115/microblog-uds/core/transaction"
)

// VetoFunc lets a replica refuse a prepare. A non-nil error becomes a no vote.
type VetoFunc func(tx transaction.Transaction) error

// Option configures a Worker.
type Option func(*Worker)

// WithVeto installs a prepare veto.
func WithVeto(fn VetoFunc) Option {
	return func(w *Worker) { w.veto = fn }
}

// WithTracer sets the tracer used by the HTTP handlers.
func WithTracer(t trace.Tracer) Option {
	return func(w *Worker) { w.tracer = t }
}

// Result describes what one prepare, commit or rollback did on this replica.
type Result struct {
	TxnID uint64
	// Prior is the state of the id when the call arrived.
	Prior transaction.State
	// State is the state of the id after the call.
	State transaction.State
	// Reverted is set when a rollback restored the previous value.
	Reverted bool
}

// Unknown reports whether the call named an id this replica never prepared.
func (r Result) Unknown() bool {
	return r.Prior == transaction.StateUnseen
}

// Worker owns one replica's store and undo log.
type Worker struct {
	// mu guards store and undo together.
	mu     sync.RWMutex
	store  *directory.Store
	undo   *directory.UndoLog
	veto   VetoFunc
	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a Worker over store and undo. The Worker takes ownership of
// both; callers must not touch them afterwards.
func New(store *directory.Store, undo *directory.UndoLog, logger *zap.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:  store,
		undo:   undo,
		tracer: nooptrace.NewTracerProvider().Tracer(""),
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Prepare records the undo entry for tx and applies its value.
func (w *Worker) Prepare(tx transaction.Transaction) (Result, error) {
	if w.veto != nil {
		if err := w.veto(tx); err != nil {
			w.logger.Info("Prepare vetoed", zap.Uint64("tid", tx.ID), zap.String("key", tx.Key), zap.Error(err))
			return Result{TxnID: tx.ID}, fmt.Errorf("%w: %v", transaction.ErrVoteRejected, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prior := transaction.StateUnseen
	if _, ok := w.undo.Get(tx.ID); ok {
		prior = transaction.StatePrepared
	}
	old, hadOld := w.store.Get(tx.Key)
	w.undo.Record(tx.ID, directory.UndoEntry{Key: tx.Key, Old: old, HadOld: hadOld, New: tx.Value})
	w.store.Set(tx.Key, tx.Value)

	w.logger.Debug("Prepared transaction",
		zap.Uint64("tid", tx.ID), zap.String("key", tx.Key), zap.Bool("had_old", hadOld))
	return Result{TxnID: tx.ID, Prior: prior, State: transaction.StatePrepared}, nil
}

// Commit discards the undo entry for id. The value is already in place.
func (w *Worker) Commit(id uint64) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.undo.Pop(id); !ok {
		w.logger.Debug("Commit ignored", zap.Uint64("tid", id), zap.Error(transaction.ErrUnknownTransaction))
		return Result{TxnID: id, Prior: transaction.StateUnseen, State: transaction.StateUnseen}
	}
	w.logger.Debug("Committed transaction", zap.Uint64("tid", id))
	return Result{TxnID: id, Prior: transaction.StatePrepared, State: transaction.StateCommitted}
}

// Rollback consumes the undo entry for id and reverts its key unless a newer
// write has landed since. key is the key named by the coordinator; the entry's
// own key wins if they differ.
func (w *Worker) Rollback(id uint64, key string) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.undo.Pop(id)
	if !ok {
		w.logger.Debug("Rollback ignored", zap.Uint64("tid", id), zap.Error(transaction.ErrUnknownTransaction))
		return Result{TxnID: id, Prior: transaction.StateUnseen, State: transaction.StateUnseen}
	}
	if key != "" && key != entry.Key {
		w.logger.Warn("Rollback key differs from prepared key",
			zap.Uint64("tid", id), zap.String("key", key), zap.String("prepared_key", entry.Key))
	}

	reverted := directory.Revert(w.store, entry)
	if !reverted {
		w.logger.Info("Rollback skipped, key overwritten by a newer write",
			zap.Uint64("tid", id), zap.String("key", entry.Key))
	} else {
		w.logger.Debug("Rolled back transaction", zap.Uint64("tid", id), zap.String("key", entry.Key))
	}
	return Result{TxnID: id, Prior: transaction.StatePrepared, State: transaction.StateRolledBack, Reverted: reverted}
}

// Get returns the local record for key.
func (w *Worker) Get(key string) (directory.Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Record(key)
}

// Snapshot returns a copy of the local directory.
func (w *Worker) Snapshot() map[string]directory.Record {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store.Snapshot()
}

// Pending returns the ids prepared but not yet resolved on this replica.
func (w *Worker) Pending() []uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.undo.Pending()
}
