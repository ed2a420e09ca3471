package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/directory"
	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	m := NewManager(Options{Timeout: timeout, DialTimeout: time.Second}, zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestReplicaClient_PrepareSendsBodyAndRequestID(t *testing.T) {
	var gotID string
	var gotReq transaction.PrepareRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/worker/prepare", r.URL.Path)
		gotID = r.Header.Get(logger.RequestIDHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(transaction.Response{Success: true, Msg: "Prepared transaction 4"})
	}))
	defer srv.Close()

	c := NewReplicaClient(newTestManager(t, time.Second))
	ctx := logger.WithRequestID(context.Background(), "req-42")
	node := strings.TrimPrefix(srv.URL, "http://")

	resp, err := c.Prepare(ctx, node, transaction.PrepareRequest{TxnID: 4, Key: "alice", Value: "a:1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "req-42", gotID)
	require.Equal(t, transaction.PrepareRequest{TxnID: 4, Key: "alice", Value: "a:1"}, gotReq)
}

func TestManager_UnreachableNode(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewReplicaClient(newTestManager(t, time.Second))
	_, err := c.Commit(context.Background(), addr, transaction.CommitRequest{TxnID: 1})
	require.Error(t, err)
	require.True(t, errors.Is(err, transaction.ErrNodeUnreachable))
}

func TestManager_TimeoutIsUnreachable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewReplicaClient(newTestManager(t, 50*time.Millisecond))
	_, err := c.Rollback(context.Background(), srv.URL, transaction.RollbackRequest{TxnID: 1, Key: "k"})
	require.True(t, errors.Is(err, transaction.ErrNodeUnreachable))
}

func TestManager_Non2xxIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewReplicaClient(newTestManager(t, time.Second))
	_, err := c.Prepare(context.Background(), srv.URL, transaction.PrepareRequest{TxnID: 1, Key: "k", Value: "v"})
	require.True(t, errors.Is(err, transaction.ErrNodeUnreachable))
	require.True(t, strings.Contains(err.Error(), "500"))
}

func TestStoreClient_ResolveAndRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transaction.StoreRequest
		json.NewDecoder(r.Body).Decode(&req)
		switch {
		case r.Method == http.MethodPut:
			json.NewEncoder(w).Encode(transaction.PutResponse{Data: directory.Record{Value: req.Value}, Success: true})
		case r.URL.Query().Get("key") == "alice":
			json.NewEncoder(w).Encode(directory.Record{Value: "10.0.0.1:9000"})
		case r.URL.Query().Get("key") == "":
			json.NewEncoder(w).Encode(transaction.Response{Success: false, Msg: "Empty username on request"})
		default:
			json.NewEncoder(w).Encode(directory.Record{})
		}
	}))
	defer srv.Close()

	c := NewStoreClient(newTestManager(t, time.Second), srv.URL)
	ctx := context.Background()

	put, err := c.Register(ctx, "carol", "10.0.0.3:9000")
	require.NoError(t, err)
	require.True(t, put.Success)
	require.Equal(t, "10.0.0.3:9000", put.Data.Value)

	addr, ok, err := c.Resolve(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9000", addr)

	_, ok, err = c.Resolve(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = c.Resolve(ctx, "")
	require.True(t, errors.Is(err, transaction.ErrInvalidRequest))
}
