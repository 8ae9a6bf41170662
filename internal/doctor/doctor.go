// Package doctor runs preflight diagnostics: can the agent's home,
// config, database and queue support a run.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/redflow/internal/config"
	"github.com/basket/redflow/internal/guard"
	"github.com/basket/redflow/internal/memory"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkHome,
		checkConfig,
		checkLLMKey,
		checkPlatform,
		checkDatabase,
		checkQueue,
		checkWordLists,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func (d Diagnosis) FailCount() int {
	n := 0
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			n++
		}
	}
	return n
}

func checkHome(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Home", Status: "FAIL", Message: "Configuration not loaded"}
	}
	probe := filepath.Join(cfg.HomeDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Home", Status: "FAIL",
			Message: fmt.Sprintf("%s is not writable", cfg.HomeDir), Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "Home", Status: "PASS", Message: cfg.HomeDir}
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	path := config.ConfigPath(cfg.HomeDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "Config", Status: "WARN",
			Message: "config.yaml missing, running on defaults", Detail: path}
	}
	return CheckResult{Name: "Config", Status: "PASS",
		Message: fmt.Sprintf("Loaded from %s (%s)", path, cfg.Fingerprint())}
}

func checkLLMKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "LLM", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.LLM.Model == "" {
		return CheckResult{Name: "LLM", Status: "FAIL", Message: "llm.model is not set"}
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		return CheckResult{Name: "LLM", Status: "WARN",
			Message: fmt.Sprintf("llm.api_key not set for provider %q", cfg.LLM.Provider),
			Detail:  "Set llm.api_key in config.yaml or REDFLOW_LLM_API_KEY"}
	}
	return CheckResult{Name: "LLM", Status: "PASS",
		Message: fmt.Sprintf("%s / %s", cfg.LLM.Provider, cfg.LLM.Model)}
}

func checkPlatform(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Platform", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Platform.BaseURL == "" {
		return CheckResult{Name: "Platform", Status: "FAIL",
			Message: "platform.base_url is not set",
			Detail:  "The agent cannot search, comment or publish without it"}
	}
	if cfg.Platform.Token == "" {
		return CheckResult{Name: "Platform", Status: "WARN", Message: "platform.token is empty"}
	}
	return CheckResult{Name: "Platform", Status: "PASS", Message: cfg.Platform.BaseURL}
}

func checkDatabase(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	path := cfg.ResolvePath(cfg.MemoryDBPath)
	store, err := memory.Open(path)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL",
			Message: fmt.Sprintf("cannot open %s", path), Detail: err.Error()}
	}
	defer store.Close()

	count, err := store.WorkingMemoryCount(context.Background())
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL",
			Message: "schema query failed", Detail: err.Error()}
	}
	return CheckResult{Name: "Database", Status: "PASS",
		Message: fmt.Sprintf("%s (%d working-memory rows)", path, count)}
}

func checkQueue(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Queue", Status: "SKIP", Message: "Config missing"}
	}
	dir := cfg.ResolvePath(cfg.Protocol.QueueDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{Name: "Queue", Status: "FAIL",
			Message: fmt.Sprintf("cannot create %s", dir), Detail: err.Error()}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Queue", Status: "FAIL",
			Message: fmt.Sprintf("%s is not writable", dir), Detail: err.Error()}
	}
	_ = os.Remove(probe)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return CheckResult{Name: "Queue", Status: "FAIL", Message: "cannot list queue", Detail: err.Error()}
	}
	pending := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			pending++
		}
	}
	return CheckResult{Name: "Queue", Status: "PASS",
		Message: fmt.Sprintf("%s (%d pending)", dir, pending)}
}

func checkWordLists(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "WordLists", Status: "SKIP", Message: "Config missing"}
	}
	path := cfg.ResolvePath(cfg.Guard.WordsFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CheckResult{Name: "WordLists", Status: "WARN",
			Message: "word list file missing, guard runs with empty lists", Detail: path}
	}
	lists, err := guard.LoadWordLists(path)
	if err != nil {
		return CheckResult{Name: "WordLists", Status: "FAIL",
			Message: fmt.Sprintf("cannot parse %s", path), Detail: err.Error()}
	}
	return CheckResult{Name: "WordLists", Status: "PASS",
		Message: fmt.Sprintf("%d block, %d stale, %d review", len(lists.Block), len(lists.Stale), len(lists.Review))}
}
