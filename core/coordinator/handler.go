package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/config"
	"github.com/sushant-115/microblog-uds/core/transaction"
	"github.com/sushant-115/microblog-uds/pkg/logger"
)

// RegisterHandlers mounts the coordinator endpoints under /coordinator.
func (c *Coordinator) RegisterHandlers(r *mux.Router) {
	r.HandleFunc("/coordinator/join", c.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/coordinator/start", c.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/coordinator/status", c.handleStatus).Methods(http.MethodGet)
}

// handleJoin records the caller as a member. Without an announced address
// the member is the caller's source ip at the worker port.
func (c *Coordinator) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req transaction.JoinRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid request body: %v", err)})
			return
		}
	}

	node := req.Address
	if node == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		node = net.JoinHostPort(host, strconv.Itoa(c.workerPort))
	}
	if err := config.ValidateAddr(node, false); err != nil {
		logger.For(r.Context(), c.logger).Warn("Rejected join", zap.String("node", node), zap.Error(err))
		writeJSON(w, http.StatusOK, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid node address %q: %v", node, err)})
		return
	}

	if c.Join(r.Context(), node) {
		writeJSON(w, http.StatusOK, transaction.Response{Success: true, Msg: fmt.Sprintf("Joined %s", node)})
		return
	}
	writeJSON(w, http.StatusOK, transaction.Response{Success: true, Msg: fmt.Sprintf("%s already joined", node)})
}

func (c *Coordinator) handleStart(w http.ResponseWriter, r *http.Request) {
	var req transaction.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, transaction.Response{Success: false, Msg: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	out, err := c.Start(r.Context(), req.Key, req.Value)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, transaction.ErrInvalidTransaction) {
			msg = "Invalid transaction: " + msg
		}
		writeJSON(w, http.StatusOK, transaction.Response{Success: false, Msg: msg})
		return
	}
	writeJSON(w, http.StatusOK, transaction.Response{Success: out.Committed, Msg: out.Message()})
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, r *http.Request) {
	nodes := c.Nodes()
	writeJSON(w, http.StatusOK, transaction.StatusResponse{
		Data:    transaction.StatusData{NextTxnID: c.NextTxnID(), Nodes: nodes},
		Success: true,
		Msg:     fmt.Sprintf("%d nodes joined", len(nodes)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
