package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/core/directory"
	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/connection"
)

func TestProcessCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/store/all":
			json.NewEncoder(w).Encode(transaction.AllResponse{
				Data:    map[string]directory.Record{"bob": {Value: "b"}, "alice": {Value: "a"}},
				Success: true,
			})
		case r.Method == http.MethodPut:
			json.NewEncoder(w).Encode(transaction.PutResponse{Data: directory.Record{Value: "10.0.0.1:9000"}, Success: true, Msg: "Committed transaction 0"})
		case r.URL.Query().Get("key") == "alice":
			json.NewEncoder(w).Encode(directory.Record{Value: "10.0.0.1:9000"})
		case r.URL.Path == "/coordinator/status":
			json.NewEncoder(w).Encode(transaction.StatusResponse{Data: transaction.StatusData{NextTxnID: 3, Nodes: []string{"w1:8080"}}, Success: true, Msg: "1 nodes joined"})
		default:
			json.NewEncoder(w).Encode(directory.Record{})
		}
	}))
	defer srv.Close()

	conns := connection.NewManager(connection.Options{Timeout: time.Second}, zap.NewNop())
	defer conns.Close()
	var out bytes.Buffer
	s := &shell{store: connection.NewStoreClient(conns, srv.URL), out: &out}

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"put", "alice", "10.0.0.1:9000"}, "Response: success=true msg=\"Committed transaction 0\" value=\"10.0.0.1:9000\"\n"},
		{[]string{"get", "alice"}, "alice -> 10.0.0.1:9000\n"},
		{[]string{"get", "nobody"}, "nobody not found\n"},
		{[]string{"all"}, "alice -> a\nbob -> b\n2 entries\n"},
		{[]string{"put", "alice"}, "Error: put command requires a username and an IP address.\n"},
		{[]string{"status"}, "Error: no coordinator address given, start with -coordinator.\n"},
		{[]string{"frobnicate"}, "Error: Unknown command. Type 'help' for a list of commands.\n"},
	}
	for _, tt := range tests {
		out.Reset()
		require.True(t, s.processCommand(tt.args))
		require.Equal(t, tt.want, out.String(), "%v", tt.args)
	}

	s.coordinator = connection.NewCoordinatorClient(conns, srv.URL, 0)
	out.Reset()
	s.processCommand([]string{"status"})
	require.Equal(t, "Next transaction id: 3\n  node w1:8080\n1 nodes joined\n", out.String())

	require.False(t, s.processCommand([]string{"quit"}))
}
