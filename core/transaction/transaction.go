// Package transaction holds the types shared by both halves of the directory's
// two-phase commit: the transaction itself, the per-replica transaction state
// and the request/response schema of every endpoint.
package transaction

import (
	"errors"
	"fmt"

	"github.com/sushant-115/microblog-uds/core/directory"
)

var (
	// ErrInvalidRequest is returned for a client-facing call with an empty key or value.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTransaction is returned by the coordinator for a write with an empty key or value.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrVoteRejected marks a replica that answered prepare with success:false.
	ErrVoteRejected = errors.New("vote rejected")
	// ErrNodeUnreachable marks a replica that timed out or refused the connection.
	ErrNodeUnreachable = errors.New("node unreachable")
	// ErrUnknownTransaction marks a commit or rollback for an id the replica never prepared.
	// Replicas treat it as a no-op; it never crosses the network.
	ErrUnknownTransaction = errors.New("unknown transaction")
)

// State is the state of one transaction id on one replica.
type State int

const (
	StateUnseen     State = iota // Replica holds no undo entry for the id
	StatePrepared                // Value tentatively applied, undo entry recorded
	StateCommitted               // Undo entry discarded on commit
	StateRolledBack              // Undo entry consumed on rollback
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "UNSEEN"
	case StatePrepared:
		return "PREPARED"
	case StateCommitted:
		return "COMMITTED"
	case StateRolledBack:
		return "ROLLED_BACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transaction is one directory write driven through a single 2PC round.
type Transaction struct {
	ID    uint64 `json:"tid"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Validate reports ErrInvalidTransaction when the key or the value is empty.
func Validate(key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidTransaction)
	}
	if value == "" {
		return fmt.Errorf("%w: empty IP address", ErrInvalidTransaction)
	}
	return nil
}

// Response is the body every coordinator and worker endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

// JoinRequest is the optional body of POST /coordinator/join.
// An empty Address means the coordinator derives it from the caller.
type JoinRequest struct {
	Address string `json:"address,omitempty"`
}

// StartRequest is the body of POST /coordinator/start.
type StartRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PrepareRequest is the body of POST /worker/prepare.
type PrepareRequest struct {
	TxnID uint64 `json:"tid"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// CommitRequest is the body of POST /worker/commit.
type CommitRequest struct {
	TxnID uint64 `json:"tid"`
}

// RollbackRequest is the body of POST /worker/rollback.
type RollbackRequest struct {
	TxnID uint64 `json:"tid"`
	Key   string `json:"key"`
}

// StatusData is the data of GET /coordinator/status.
type StatusData struct {
	NextTxnID uint64   `json:"next_tid"`
	Nodes     []string `json:"nodes"`
}

// StatusResponse is the body of GET /coordinator/status.
type StatusResponse struct {
	Data    StatusData `json:"data"`
	Success bool       `json:"success"`
	Msg     string     `json:"msg"`
}

// StoreRequest is the body of GET and PUT on /store. Value is ignored by GET.
type StoreRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// PutResponse is the body of PUT /store. Data is the local record for the key
// once the round has resolved.
type PutResponse struct {
	Data    directory.Record `json:"data"`
	Success bool             `json:"success"`
	Msg     string           `json:"msg"`
}

// AllResponse is the body of GET /store/all.
type AllResponse struct {
	Data    map[string]directory.Record `json:"data"`
	Success bool                        `json:"success"`
	Msg     string                      `json:"msg"`
}
