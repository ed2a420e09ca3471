// Package coordinator implements the coordinator side of the directory's
// two-phase commit.
//
// One lock serializes every round from id assignment to the last commit or
// rollback delivery, so at most one transaction is in flight cluster-wide and
// replicas see rounds in id order. Prepare is sent to members one at a time
// and the first no vote, timeout or unreachable member aborts the round
// without contacting the rest. Commit and rollback are best effort: a member
// that misses one is reported in the Outcome but never retried.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/transaction"
	internaltelemetry "github.com/sushant-115/microblog-uds/internal/telemetry"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

// DefaultCallTimeout bounds each replica call of a round.
const DefaultCallTimeout = 10 * time.Second

// Participant delivers the worker half of the protocol to a replica.
type Participant interface {
	Prepare(ctx context.Context, node string, req transaction.PrepareRequest) (transaction.Response, error)
	Commit(ctx context.Context, node string, req transaction.CommitRequest) (transaction.Response, error)
	Rollback(ctx context.Context, node string, req transaction.RollbackRequest) (transaction.Response, error)
}

// Phase names the second phase of a round.
type Phase string

const (
	PhaseCommit   Phase = "commit"
	PhaseRollback Phase = "rollback"
)

// Vote is one member's answer to prepare.
type Vote struct {
	Node string
	Yes  bool
	// Err is ErrVoteRejected or ErrNodeUnreachable for a no vote.
	Err error
}

// Delivery is the fate of one commit or rollback message.
type Delivery struct {
	Node  string
	Phase Phase
	Err   error
}

// Outcome is the full record of one round.
type Outcome struct {
	Txn       transaction.Transaction
	Committed bool
	// Members is the member set the round ran against.
	Members []string
	// Votes holds the prepare answers in the order they were collected. It is
	// shorter than Members when a no vote cut the prepare phase short.
	Votes      []Vote
	Deliveries []Delivery
}

// Undelivered lists the members that did not acknowledge the decision. Their
// state may diverge from the rest of the cluster.
func (o Outcome) Undelivered() []Delivery {
	var out []Delivery
	for _, d := range o.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Message is the client-facing summary of the round.
func (o Outcome) Message() string {
	var msg string
	if o.Committed {
		msg = fmt.Sprintf("Committed transaction %d", o.Txn.ID)
	} else {
		msg = fmt.Sprintf("Rolled back transaction %d", o.Txn.ID)
	}
	if missed := len(o.Undelivered()); missed > 0 {
		phase := PhaseCommit
		if !o.Committed {
			phase = PhaseRollback
		}
		msg += fmt.Sprintf(" (%s not delivered to %d of %d nodes)", phase, missed, len(o.Deliveries))
	}
	return msg
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCallTimeout sets the bound on each replica call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callTimeout = d }
}

// WithTracer sets the tracer for round and call spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithMetrics sets the round metrics.
func WithMetrics(m *internaltelemetry.TxnMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithWorkerPort sets the port assumed for members that join without
// announcing an address.
func WithWorkerPort(port int) Option {
	return func(c *Coordinator) { c.workerPort = port }
}

// Coordinator drives 2PC rounds over its membership.
type Coordinator struct {
	// txnMu is held for the whole of a round.
	txnMu sync.Mutex
	// nextID is only advanced under txnMu; readers outside a round load it atomically.
	nextID atomic.Uint64

	members     *Membership
	participant Participant
	callTimeout time.Duration
	workerPort  int
	tracer      trace.Tracer
	metrics     *internaltelemetry.TxnMetrics
	logger      *zap.Logger
}

// New creates a Coordinator over members that reaches replicas through p.
func New(members *Membership, p Participant, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		members:     members,
		participant: p,
		callTimeout: DefaultCallTimeout,
		workerPort:  8080,
		tracer:      nooptrace.NewTracerProvider().Tracer(""),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join adds node to the membership and reports whether it was new. A node
// that joins while a round is running takes part from the next round on.
func (c *Coordinator) Join(ctx context.Context, node string) bool {
	added := c.members.Add(node)
	if added {
		if c.metrics != nil {
			c.metrics.ClusterMembersUpDownCounter.Add(ctx, 1)
		}
		logger.For(ctx, c.logger).Info("Node joined", zap.String("node", node), zap.Int("members", c.members.Len()))
	} else {
		logger.For(ctx, c.logger).Debug("Node already a member", zap.String("node", node))
	}
	return added
}

// Nodes returns the current members in join order.
func (c *Coordinator) Nodes() []string {
	return c.members.Snapshot()
}

// NextTxnID returns the id the next round will use.
func (c *Coordinator) NextTxnID() uint64 {
	return c.nextID.Load()
}

// Start runs one write through a full round. It fails with
// transaction.ErrInvalidTransaction, without contacting any member, when key
// or value is empty. Otherwise the returned Outcome says whether the write
// committed.
func (c *Coordinator) Start(ctx context.Context, key, value string) (Outcome, error) {
	if err := transaction.Validate(key, value); err != nil {
		return Outcome{}, err
	}

	c.txnMu.Lock()
	defer c.txnMu.Unlock()

	tx := transaction.Transaction{ID: c.nextID.Load(), Key: key, Value: value}
	c.nextID.Add(1)

	nodes := c.members.Snapshot()
	log := logger.For(ctx, c.logger).With(zap.Uint64("tid", tx.ID), zap.String("key", key))
	log.Info("Starting transaction", zap.Int("members", len(nodes)))

	ctx, span := c.tracer.Start(ctx, "coordinator.round", trace.WithAttributes(
		attribute.Int64("uds.tid", int64(tx.ID)),
		attribute.Int("uds.members", len(nodes)),
	))
	defer span.End()
	if c.metrics != nil {
		c.metrics.TxnStartedCounter.Add(ctx, 1)
	}

	out := Outcome{Txn: tx, Members: nodes}

	prepareStart := time.Now()
	commit := true
	for _, node := range nodes {
		vote := c.prepare(ctx, node, tx)
		out.Votes = append(out.Votes, vote)
		if !vote.Yes {
			log.Info("Prepare failed, aborting", zap.String("node", node), zap.Error(vote.Err))
			commit = false
			break
		}
		log.Debug("Vote yes", zap.String("node", node))
	}
	if c.metrics != nil {
		c.metrics.PrepareLatencyHistogram.Record(ctx, time.Since(prepareStart).Milliseconds())
	}
	out.Committed = commit

	// The decision is final: the second phase runs to completion even if the
	// caller goes away.
	decided := context.WithoutCancel(ctx)
	phase := PhaseCommit
	if !commit {
		phase = PhaseRollback
	}
	out.Deliveries = c.fanOut(decided, nodes, phase, tx)

	for _, d := range out.Undelivered() {
		log.Warn("Decision not delivered", zap.String("node", d.Node), zap.String("phase", string(d.Phase)), zap.Error(d.Err))
	}
	if c.metrics != nil {
		if missed := len(out.Undelivered()); missed > 0 {
			c.metrics.DeliveryFailuresCounter.Add(ctx, int64(missed))
		}
		if commit {
			c.metrics.TxnCommittedCounter.Add(ctx, 1)
		} else {
			c.metrics.TxnAbortedCounter.Add(ctx, 1)
		}
	}

	span.SetAttributes(attribute.Bool("uds.committed", commit))
	if !commit {
		span.SetStatus(codes.Error, "rolled back")
	}
	log.Info("Transaction resolved", zap.String("phase", string(phase)), zap.Int("undelivered", len(out.Undelivered())))
	return out, nil
}

func (c *Coordinator) prepare(ctx context.Context, node string, tx transaction.Transaction) Vote {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "coordinator.prepare", trace.WithAttributes(attribute.String("uds.node", node)))
	defer span.End()

	resp, err := c.participant.Prepare(ctx, node, transaction.PrepareRequest{TxnID: tx.ID, Key: tx.Key, Value: tx.Value})
	if err != nil {
		if !errors.Is(err, transaction.ErrNodeUnreachable) {
			err = fmt.Errorf("%w: %s: %v", transaction.ErrNodeUnreachable, node, err)
		}
		span.RecordError(err)
		return Vote{Node: node, Err: err}
	}
	if !resp.Success {
		span.SetStatus(codes.Error, resp.Msg)
		return Vote{Node: node, Err: fmt.Errorf("%w: %s: %s", transaction.ErrVoteRejected, node, resp.Msg)}
	}
	return Vote{Node: node, Yes: true}
}

// fanOut delivers the decision to every node concurrently and waits for all
// of them. Results are in node order.
func (c *Coordinator) fanOut(ctx context.Context, nodes []string, phase Phase, tx transaction.Transaction) []Delivery {
	deliveries := make([]Delivery, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			deliveries[i] = Delivery{Node: node, Phase: phase, Err: c.deliver(ctx, node, phase, tx)}
		}(i, node)
	}
	wg.Wait()
	return deliveries
}

func (c *Coordinator) deliver(ctx context.Context, node string, phase Phase, tx transaction.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "coordinator."+string(phase), trace.WithAttributes(attribute.String("uds.node", node)))
	defer span.End()

	var resp transaction.Response
	var err error
	if phase == PhaseCommit {
		resp, err = c.participant.Commit(ctx, node, transaction.CommitRequest{TxnID: tx.ID})
	} else {
		resp, err = c.participant.Rollback(ctx, node, transaction.RollbackRequest{TxnID: tx.ID, Key: tx.Key})
	}
	if err == nil && !resp.Success {
		err = fmt.Errorf("%s refused %s: %s", node, phase, resp.Msg)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}
