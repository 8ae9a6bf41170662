package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/protocol"
)

var taskTokenEstimates = map[string]int{
	"comment": 800,
	"publish": 2000,
	"hotspot": 600,
	"like":    0,
}

// runTaskCommand drops a task file into the queue for a running agent
// to pick up on its next cycle.
func runTaskCommand(args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: redflow task <comment|publish|hotspot|like> [keyword]")
		return 2
	}
	taskType := args[0]
	estimate, ok := taskTokenEstimates[taskType]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown task type %q\n", taskType)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	proto, err := protocol.New(cfg.Protocol, cfg.HomeDir, cfg.AgentName, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "protocol init: %v\n", err)
		return 1
	}

	task := protocol.Task{
		Type:            taskType,
		Name:            fmt.Sprintf("cli-%s-%d", taskType, time.Now().Unix()),
		EstimatedTokens: estimate,
	}
	if len(args) == 2 {
		task.Keyword = args[1]
	}
	if err := proto.Enqueue(task); err != nil {
		fmt.Fprintf(os.Stderr, "enqueue: %v\n", err)
		return 1
	}

	depth, _ := proto.QueueDepth()
	fmt.Printf("queued %s (%d pending)\n", task.Name, depth)
	return 0
}
