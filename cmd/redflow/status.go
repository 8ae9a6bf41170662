package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/redflow/internal/budget"
	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/protocol"
)

// heartbeatStale is how old a heartbeat can be before the agent is
// presumed dead. Matches the longest inter-cycle sleep plus slack.
const heartbeatStale = 10 * time.Minute

func runStatusCommand(args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: redflow status")
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

	color := isatty.IsTerminal(os.Stdout.Fd())
	label := func(s string) string { return s }
	dim := label
	good := label
	bad := label
	if color {
		labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
		goodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
		badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
		label = func(s string) string { return labelStyle.Render(s) }
		dim = func(s string) string { return dimStyle.Render(s) }
		good = func(s string) string { return goodStyle.Render(s) }
		bad = func(s string) string { return badStyle.Render(s) }
	}

	var out strings.Builder
	out.WriteString(label("agent: ") + cfg.AgentName + "\n")

	hb, hbErr := proto.ReadHeartbeat()
	switch {
	case hbErr != nil:
		out.WriteString(label("heartbeat: ") + dim("none (agent has not run)") + "\n")
	case time.Since(hb.Timestamp) > heartbeatStale:
		out.WriteString(fmt.Sprintf("%s%s (%s, last seen %s)\n",
			label("heartbeat: "), bad("stale"), hb.Status,
			hb.Timestamp.Format("2006-01-02 15:04:05")))
	default:
		out.WriteString(fmt.Sprintf("%s%s (%s, errors %d)\n",
			label("heartbeat: "), good(hb.Status),
			hb.Timestamp.Format("15:04:05"), hb.Errors))
	}

	cp := proto.ReadCheckpoint()
	if cp.LastTask != "" || cp.LastResultStatus != "" {
		out.WriteString(fmt.Sprintf("%s%s %s %s\n",
			label("last task: "), cp.LastTask, dim(cp.LastResultStatus),
			dim(cp.Timestamp.Format("15:04:05"))))
	}

	if depth, err := proto.QueueDepth(); err == nil {
		out.WriteString(fmt.Sprintf("%s%d pending\n", label("queue: "), depth))
	}

	if usage, ok := readUsage(cfg.ResolvePath(cfg.UsageFile)); ok {
		out.WriteString(fmt.Sprintf("%s%d tokens, %.4f spent (%s)\n",
			label("usage: "), usage.TokensUsed, usage.Cost, dim(usage.Date)))
	} else {
		out.WriteString(label("usage: ") + dim("no usage recorded") + "\n")
	}

	fmt.Print(out.String())
	return 0
}

func readUsage(path string) (budget.Usage, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return budget.Usage{}, false
	}
	var u budget.Usage
	if err := json.Unmarshal(raw, &u); err != nil {
		return budget.Usage{}, false
	}
	return u, true
}
