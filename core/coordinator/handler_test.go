package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/transaction"
)

func newTestRouter(c *Coordinator) *mux.Router {
	r := mux.NewRouter()
	c.RegisterHandlers(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, remote string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(out))
	}
	return rec.Code
}

func TestHandleJoin_DerivesAddressFromSource(t *testing.T) {
	c := New(NewMembership(), newFakeCluster(), zap.NewNop())
	h := newTestRouter(c)

	var resp transaction.Response
	code := do(t, h, http.MethodPost, "/coordinator/join", "10.1.2.3:53211", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
	require.Equal(t, []string{"10.1.2.3:8080"}, c.Nodes())

	// Rejoining from another ephemeral port is the same member.
	do(t, h, http.MethodPost, "/coordinator/join", "10.1.2.3:40000", nil, &resp)
	require.True(t, resp.Success)
	require.Len(t, c.Nodes(), 1)
}

func TestHandleJoin_WorkerPortAndAnnouncedAddress(t *testing.T) {
	c := New(NewMembership(), newFakeCluster(), zap.NewNop(), WithWorkerPort(9090))
	h := newTestRouter(c)

	var resp transaction.Response
	do(t, h, http.MethodPost, "/coordinator/join", "10.1.2.3:53211", nil, &resp)
	do(t, h, http.MethodPost, "/coordinator/join", "10.1.2.4:53211", transaction.JoinRequest{Address: "worker-b:7000"}, &resp)
	require.True(t, resp.Success)
	require.Equal(t, []string{"10.1.2.3:9090", "worker-b:7000"}, c.Nodes())

	do(t, h, http.MethodPost, "/coordinator/join", "10.1.2.5:1", transaction.JoinRequest{Address: "no-port"}, &resp)
	require.False(t, resp.Success)
	require.Len(t, c.Nodes(), 2)
}

func TestHandleStart(t *testing.T) {
	f := newFakeCluster("w1", "w2")
	f.down["w2"] = true
	c := New(NewMembership(), f, zap.NewNop())
	c.Join(t.Context(), "w1")
	h := newTestRouter(c)

	var resp transaction.Response
	do(t, h, http.MethodPost, "/coordinator/start", "", transaction.StartRequest{Key: "alice", Value: "10.0.0.1:9000"}, &resp)
	require.True(t, resp.Success)
	require.Equal(t, "Committed transaction 0", resp.Msg)

	c.Join(t.Context(), "w2")
	do(t, h, http.MethodPost, "/coordinator/start", "", transaction.StartRequest{Key: "bob", Value: "X"}, &resp)
	require.False(t, resp.Success)
	require.True(t, strings.HasPrefix(resp.Msg, "Rolled back transaction 1"))

	do(t, h, http.MethodPost, "/coordinator/start", "", transaction.StartRequest{Key: "bob"}, &resp)
	require.False(t, resp.Success)
	require.Contains(t, resp.Msg, "Invalid transaction")
}

func TestHandleStatus(t *testing.T) {
	c := New(NewMembership(), newFakeCluster("w1"), zap.NewNop())
	c.Join(t.Context(), "w1")
	_, err := c.Start(t.Context(), "alice", "a")
	require.NoError(t, err)

	var resp transaction.StatusResponse
	code := do(t, newTestRouter(c), http.MethodGet, "/coordinator/status", "", nil, &resp)
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
	require.Equal(t, uint64(1), resp.Data.NextTxnID)
	require.Equal(t, []string{"w1"}, resp.Data.Nodes)
}

func TestHandleStart_MalformedBody(t *testing.T) {
	c := New(NewMembership(), newFakeCluster(), zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/coordinator/start", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	newTestRouter(c).ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
