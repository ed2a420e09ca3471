package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sushant-115/microblog-uds/pkg/connection"
)

const clientTimeout = 10 * time.Second

// shell runs one operator command at a time against a store endpoint and,
// for status, a coordinator.
type shell struct {
	store       *connection.StoreClient
	coordinator *connection.CoordinatorClient
	out         io.Writer
}

// processCommand handles a single command. It returns false when the user asked to leave.
func (s *shell) processCommand(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Error: No command provided.")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), clientTimeout)
	defer cancel()

	switch strings.ToLower(args[0]) {
	case "put":
		if len(args) != 3 {
			fmt.Fprintln(s.out, "Error: put command requires a username and an IP address.")
			return true
		}
		resp, err := s.store.Register(ctx, args[1], args[2])
		if err != nil {
			fmt.Fprintf(s.out, "Put %s failed: %v\n", args[1], err)
			return true
		}
		fmt.Fprintf(s.out, "Response: success=%t msg=%q value=%q\n", resp.Success, resp.Msg, resp.Data.Value)
	case "get":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "Error: get command requires a username.")
			return true
		}
		addr, ok, err := s.store.Resolve(ctx, args[1])
		if err != nil {
			fmt.Fprintf(s.out, "Get %s failed: %v\n", args[1], err)
			return true
		}
		if !ok {
			fmt.Fprintf(s.out, "%s not found\n", args[1])
			return true
		}
		fmt.Fprintf(s.out, "%s -> %s\n", args[1], addr)
	case "all":
		resp, err := s.store.All(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "All failed: %v\n", err)
			return true
		}
		keys := make([]string, 0, len(resp.Data))
		for k := range resp.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.out, "%s -> %s\n", k, resp.Data[k].Value)
		}
		fmt.Fprintf(s.out, "%d entries\n", len(keys))
	case "status":
		if s.coordinator == nil {
			fmt.Fprintln(s.out, "Error: no coordinator address given, start with -coordinator.")
			return true
		}
		resp, err := s.coordinator.Status(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Status failed: %v\n", err)
			return true
		}
		fmt.Fprintf(s.out, "Next transaction id: %d\n", resp.Data.NextTxnID)
		for _, n := range resp.Data.Nodes {
			fmt.Fprintf(s.out, "  node %s\n", n)
		}
		fmt.Fprintln(s.out, resp.Msg)
	case "help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  put <username> <address>")
		fmt.Fprintln(s.out, "  get <username>")
		fmt.Fprintln(s.out, "  all")
		fmt.Fprintln(s.out, "  status")
		fmt.Fprintln(s.out, "  help")
		fmt.Fprintln(s.out, "  exit / quit")
	case "exit", "quit":
		fmt.Fprintln(s.out, "Exiting UDS CLI.")
		return false
	default:
		fmt.Fprintln(s.out, "Error: Unknown command. Type 'help' for a list of commands.")
	}
	return true
}
