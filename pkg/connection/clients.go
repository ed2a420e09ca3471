package connection

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/sushant-115/microblog-uds/core/transaction"
)

// ReplicaClient sends the worker half of 2PC to replicas by address.
type ReplicaClient struct {
	m *Manager
}

// NewReplicaClient creates a ReplicaClient over m.
func NewReplicaClient(m *Manager) *ReplicaClient {
	return &ReplicaClient{m: m}
}

// Prepare sends POST /worker/prepare to node.
func (c *ReplicaClient) Prepare(ctx context.Context, node string, req transaction.PrepareRequest) (transaction.Response, error) {
	var resp transaction.Response
	err := c.m.Do(ctx, http.MethodPost, node, "/worker/prepare", req, &resp)
	return resp, err
}

// Commit sends POST /worker/commit to node.
func (c *ReplicaClient) Commit(ctx context.Context, node string, req transaction.CommitRequest) (transaction.Response, error) {
	var resp transaction.Response
	err := c.m.Do(ctx, http.MethodPost, node, "/worker/commit", req, &resp)
	return resp, err
}

// Rollback sends POST /worker/rollback to node.
func (c *ReplicaClient) Rollback(ctx context.Context, node string, req transaction.RollbackRequest) (transaction.Response, error) {
	var resp transaction.Response
	err := c.m.Do(ctx, http.MethodPost, node, "/worker/rollback", req, &resp)
	return resp, err
}

// CoordinatorClient is a worker's view of its coordinator.
type CoordinatorClient struct {
	m    *Manager
	addr string
	// startTimeout bounds a whole round, which spans several replica calls.
	startTimeout time.Duration
}

// NewCoordinatorClient creates a CoordinatorClient for the coordinator at addr.
func NewCoordinatorClient(m *Manager, addr string, startTimeout time.Duration) *CoordinatorClient {
	return &CoordinatorClient{m: m, addr: addr, startTimeout: startTimeout}
}

// Join registers the calling worker. An empty advertise lets the coordinator
// derive the address from the connection.
func (c *CoordinatorClient) Join(ctx context.Context, advertise string) (transaction.Response, error) {
	var resp transaction.Response
	err := c.m.Do(ctx, http.MethodPost, c.addr, "/coordinator/join", transaction.JoinRequest{Address: advertise}, &resp)
	return resp, err
}

// Start asks the coordinator to run one write through 2PC.
func (c *CoordinatorClient) Start(ctx context.Context, key, value string) (transaction.Response, error) {
	if c.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.startTimeout)
		defer cancel()
	}
	var resp transaction.Response
	err := c.m.Do(ctx, http.MethodPost, c.addr, "/coordinator/start", transaction.StartRequest{Key: key, Value: value}, &resp)
	return resp, err
}

// Status fetches the coordinator's membership and id counter.
func (c *CoordinatorClient) Status(ctx context.Context) (transaction.StatusResponse, error) {
	var resp transaction.StatusResponse
	err := c.m.Do(ctx, http.MethodGet, c.addr, "/coordinator/status", nil, &resp)
	return resp, err
}

// StoreClient talks to one node's client-facing store endpoint. It is the
// contract a microblog peer uses to register itself and resolve other peers.
type StoreClient struct {
	m    *Manager
	addr string
}

// NewStoreClient creates a StoreClient for the store endpoint at addr.
func NewStoreClient(m *Manager, addr string) *StoreClient {
	return &StoreClient{m: m, addr: addr}
}

// Register maps username to address through PUT /store.
func (c *StoreClient) Register(ctx context.Context, username, address string) (transaction.PutResponse, error) {
	var resp transaction.PutResponse
	err := c.m.Do(ctx, http.MethodPut, c.addr, "/store", transaction.StoreRequest{Key: username, Value: address}, &resp)
	return resp, err
}

// Resolve looks username up through GET /store. The bool is false when the
// directory has no entry.
func (c *StoreClient) Resolve(ctx context.Context, username string) (string, bool, error) {
	var raw map[string]any
	path := "/store?key=" + url.QueryEscape(username)
	if err := c.m.Do(ctx, http.MethodGet, c.addr, path, transaction.StoreRequest{Key: username}, &raw); err != nil {
		return "", false, err
	}
	if ok, isBool := raw["success"].(bool); isBool && !ok {
		msg, _ := raw["msg"].(string)
		return "", false, &RequestError{Msg: msg}
	}
	v, ok := raw["value"].(string)
	return v, ok && v != "", nil
}

// All returns the node's whole directory.
func (c *StoreClient) All(ctx context.Context) (transaction.AllResponse, error) {
	var resp transaction.AllResponse
	err := c.m.Do(ctx, http.MethodGet, c.addr, "/store/all", nil, &resp)
	return resp, err
}

// RequestError is a store endpoint refusal carried in a success:false body.
type RequestError struct {
	Msg string
}

func (e *RequestError) Error() string {
	return transaction.ErrInvalidRequest.Error() + ": " + e.Msg
}

// Unwrap lets errors.Is match transaction.ErrInvalidRequest.
func (e *RequestError) Unwrap() error {
	return transaction.ErrInvalidRequest
}
