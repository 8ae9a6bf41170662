// Command redflow runs the autonomous posting agent: a single control
// loop driven by a file-based task queue, with safety, budget, and
// behavioral interlocks around every platform action.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/basket/redflow/internal/audit"
	"github.com/basket/redflow/internal/behavior"
	"github.com/basket/redflow/internal/budget"
	"github.com/basket/redflow/internal/bus"
	"github.com/basket/redflow/internal/channels"
	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/diversity"
	"github.com/basket/redflow/internal/guard"
	"github.com/basket/redflow/internal/llm"
	"github.com/basket/redflow/internal/memory"
	otelPkg "github.com/basket/redflow/internal/otel"
	"github.com/basket/redflow/internal/persona"
	"github.com/basket/redflow/internal/platform"
	"github.com/basket/redflow/internal/protocol"
	"github.com/basket/redflow/internal/scheduler"
	"github.com/basket/redflow/internal/telemetry"
	"github.com/basket/redflow/internal/thought"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Run the agent loop in the foreground

SUBCOMMANDS:
  %s status                   Show heartbeat, usage and last checkpoint
  %s doctor [-json]           Run diagnostic checks
  %s task <type> [keyword]    Enqueue a task (comment, publish, hotspot, like)
  %s version                  Print the version

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  REDFLOW_HOME            Data directory (default: ~/.redflow)
  REDFLOW_LLM_API_KEY     LLM provider API key
  REDFLOW_PLATFORM_TOKEN  Platform API token
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "log to file only, keep stdout clean")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "version":
			fmt.Println(Version)
			return
		case "status":
			os.Exit(runStatusCommand(args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		case "task":
			os.Exit(runTaskCommand(args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	loadDotEnv(filepath.Join(config.HomeDir(), ".env"))

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "audit init", err)
	}
	defer func() { _ = audit.Close() }()

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup", "version", Version, "home", cfg.HomeDir, "config", cfg.Fingerprint())

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, cfg.Telemetry)
	if err != nil {
		fatalStartup(logger, "otel init", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "metrics init", err)
	}

	store, err := memory.Open(cfg.ResolvePath(cfg.MemoryDBPath))
	if err != nil {
		fatalStartup(logger, "memory open", err)
	}
	defer store.Close()

	budgetMgr := budget.NewManager(budget.Config{
		DailyTokenLimit:    cfg.Budget.DailyTokenLimit,
		DailyCostLimit:     cfg.Budget.DailyCostLimit,
		SingleRequestLimit: cfg.Budget.SingleRequestLimit,
		Model:              cfg.LLM.Model,
		UsageFile:          cfg.ResolvePath(cfg.UsageFile),
		Events:             eventBus,
		Logger:             logger,
	})

	wordsPath := cfg.ResolvePath(cfg.Guard.WordsFile)
	if _, statErr := os.Stat(wordsPath); os.IsNotExist(statErr) {
		if err := guard.SaveWordLists(wordsPath, guard.DefaultWordLists()); err != nil {
			logger.Warn("bootstrap word lists", "path", wordsPath, "error", err)
		} else {
			logger.Info("word lists bootstrapped with defaults", "path", wordsPath)
		}
	}
	safety := guard.New(cfg.Guard, wordsPath, eventBus, logger)

	confWatcher := config.NewWatcher(cfg.HomeDir, wordsPath, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "config watcher", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			if filepath.Base(ev.Path) != filepath.Base(wordsPath) {
				continue
			}
			lists, err := guard.LoadWordLists(wordsPath)
			if err != nil {
				logger.Error("word list reload rejected, keeping previous lists", "error", err)
				continue
			}
			safety.SetWords(lists)
			logger.Info("word lists hot-reloaded", "path", ev.Path)
		}
	}()

	generator, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		fatalStartup(logger, "llm client", err)
	}

	platClient, err := platform.NewHTTPClient(cfg.Platform, logger)
	if err != nil {
		fatalStartup(logger, "platform client", err)
	}

	proto, err := protocol.New(cfg.Protocol, cfg.HomeDir, cfg.AgentName, logger)
	if err != nil {
		fatalStartup(logger, "protocol init", err)
	}

	// An optional persona.md in the home dir overrides the built-in persona.
	personaText := ""
	if raw, err := os.ReadFile(filepath.Join(cfg.HomeDir, "persona.md")); err == nil {
		personaText = string(raw)
		logger.Info("loaded persona override", "bytes", len(raw))
	}

	sched := scheduler.New(scheduler.Deps{
		Config:    cfg.Scheduler,
		Agent:     cfg.AgentName,
		Protocol:  proto,
		Budget:    budgetMgr,
		Guard:     safety,
		Memory:    store,
		Thought:   thought.New(nil),
		Persona:   persona.New(generator, personaText, logger),
		Diversity: diversity.New(logger),
		Behavior:  behavior.New(logger),
		Platform:  platClient,
		Events:    eventBus,
		Metrics:   metrics,
		Tracer:    otelProvider.Tracer,
		Logger:    logger,
	})

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			logger.Warn("telegram channel enabled but token is missing")
		} else {
			statusFn := func() string {
				hb, err := proto.ReadHeartbeat()
				if err != nil {
					return fmt.Sprintf("state: %s, heartbeat unavailable", sched.State())
				}
				usage := budgetMgr.Snapshot()
				return fmt.Sprintf("state: %s\nheartbeat: %s (%s, errors %d)\ntokens today: %d\ncost today: %.4f",
					sched.State(), hb.Timestamp.Format("15:04:05"), hb.Status, hb.Errors,
					usage.TokensUsed, usage.Cost)
			}
			tg := channels.NewTelegramChannel(
				cfg.Channels.Telegram.Token,
				cfg.Channels.Telegram.AllowedIDs,
				eventBus,
				statusFn,
				logger,
			)
			go func() {
				if err := tg.Start(ctx); err != nil {
					logger.Error("telegram channel failed", "error", err)
				}
			}()
		}
	}

	err = sched.Run(ctx)
	if errors.Is(err, scheduler.ErrEmergencyStop) {
		logger.Error("agent halted by emergency stop")
		os.Exit(1)
	}
	if err != nil {
		logger.Error("scheduler exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadDotEnv reads KEY=VALUE lines from a .env file without
// overriding variables already present in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	audit.Record("fatal", "runtime.startup", phase, "")
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, "redflow: %s: %v\n", phase, err)
	}
	os.Exit(1)
}
