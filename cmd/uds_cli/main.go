package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/sushant-115/microblog-uds/pkg/connection"
)

var (
	storeAddr       = flag.String("store", "http://localhost:8080", "Store endpoint of any worker")
	coordinatorAddr = flag.String("coordinator", "", "Coordinator address, used by status")
	historyFile     = flag.String("history", "/tmp/uds_cli.history", "Shell history file")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	conns := connection.NewManager(connection.Options{Timeout: clientTimeout}, zap.NewNop())
	defer conns.Close()

	s := &shell{
		store: connection.NewStoreClient(conns, *storeAddr),
		out:   os.Stdout,
	}
	if *coordinatorAddr != "" {
		s.coordinator = connection.NewCoordinatorClient(conns, *coordinatorAddr, 0)
	}

	if args := flag.Args(); len(args) > 0 {
		s.processCommand(args)
		return
	}
	shellLoop(s)
}

func shellLoop(s *shell) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "uds> ",
		HistoryFile:       *historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		log.Fatalf("Failed to start shell: %v", err)
	}
	defer l.Close()

	fmt.Println("UDS CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := l.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !s.processCommand(strings.Fields(line)) {
			return
		}
	}
}
