package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig holds the generation backend settings. The backend is an
// OpenAI-compatible endpoint; Provider selects a known base URL.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // deepseek, openai, dashscope, siliconflow, ollama
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	// TimeoutSeconds bounds a single generate call. Default 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// BudgetConfig holds the daily spend gates enforced by the cost manager.
type BudgetConfig struct {
	DailyTokenLimit    int     `yaml:"daily_token_limit"`
	DailyCostLimit     float64 `yaml:"daily_cost_limit"` // advisory, logged not enforced
	SingleRequestLimit int     `yaml:"single_request_limit"`
}

// GuardConfig holds the safety firewall settings.
type GuardConfig struct {
	// AccountAgeDays selects the rate-limit regime: below ColdStartAgeDays
	// the stricter cold-start table applies.
	AccountAgeDays   int `yaml:"account_age_days"`
	ColdStartAgeDays int `yaml:"cold_start_age_days"`

	// WordsFile points to a YAML file with block/stale/review word lists.
	// Relative paths resolve under HomeDir. Hot-reloaded by the watcher.
	WordsFile string `yaml:"words_file"`
}

// SelfTaskConfig defines one entry of the scheduler's self-generated task
// menu. Cron (5-field) optionally pins the task to scheduled windows;
// Weight drives the probabilistic pick when no cron is set.
type SelfTaskConfig struct {
	Type            string `yaml:"type"` // comment, publish, hotspot
	Weight          int    `yaml:"weight"`
	Cron            string `yaml:"cron"`
	EstimatedTokens int    `yaml:"estimated_tokens"`
}

// SchedulerConfig holds control-loop settings.
type SchedulerConfig struct {
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
	TaskTimeoutSeconds   int `yaml:"task_timeout_seconds"`

	// Silent period: local hours during which no self-tasks are generated.
	// A wrap-around range (e.g. 23..7) is allowed.
	SilentStartHour int `yaml:"silent_start_hour"`
	SilentEndHour   int `yaml:"silent_end_hour"`

	// Inter-cycle sleep bounds in seconds; actual sleep is jittered
	// uniformly within [Min, Max].
	CycleSleepMinSeconds int `yaml:"cycle_sleep_min_seconds"`
	CycleSleepMaxSeconds int `yaml:"cycle_sleep_max_seconds"`

	// SelfTaskProbability is the chance (0..1) of generating a task on an
	// idle cycle outside the silent period.
	SelfTaskProbability float64 `yaml:"self_task_probability"`

	SelfTasks []SelfTaskConfig `yaml:"self_tasks"`
}

// ProtocolConfig holds the parent-process file exchange locations.
// Relative paths resolve under HomeDir.
type ProtocolConfig struct {
	QueueDir       string `yaml:"queue_dir"`
	StatusFile     string `yaml:"status_file"`
	CheckpointFile string `yaml:"checkpoint_file"`
	HeartbeatFile  string `yaml:"heartbeat_file"`
}

// PlatformConfig holds target-platform client settings.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	// TimeoutSeconds bounds a single platform call. Default 30.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// TelegramConfig configures the ops alert channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelemetryConfig mirrors the OTel provider settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	AgentName string `yaml:"agent_name"`
	LogLevel  string `yaml:"log_level"`

	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Guard     GuardConfig     `yaml:"guard"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Platform  PlatformConfig  `yaml:"platform"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// MemoryDBPath is the sqlite file for the tiered memory store.
	MemoryDBPath string `yaml:"memory_db_path"`
	// UsageFile persists the daily token/cost usage record.
	UsageFile string `yaml:"usage_file"`
}

// HomeDir returns the agent data directory, honoring REDFLOW_HOME.
func HomeDir() string {
	if override := os.Getenv("REDFLOW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".redflow")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		AgentName: "redflow",
		LogLevel:  "info",
		LLM: LLMConfig{
			Provider:       "deepseek",
			Model:          "deepseek-chat",
			MaxTokens:      2048,
			Temperature:    0.7,
			TimeoutSeconds: 120,
		},
		Budget: BudgetConfig{
			DailyTokenLimit:    100_000,
			DailyCostLimit:     5.0,
			SingleRequestLimit: 4_000,
		},
		Guard: GuardConfig{
			AccountAgeDays:   0,
			ColdStartAgeDays: 30,
			WordsFile:        "blockwords.yaml",
		},
		Scheduler: SchedulerConfig{
			MaxConsecutiveErrors: 10,
			TaskTimeoutSeconds:   int((5 * time.Minute).Seconds()),
			SilentStartHour:      1,
			SilentEndHour:        7,
			CycleSleepMinSeconds: 60,
			CycleSleepMaxSeconds: 300,
			SelfTaskProbability:  0.6,
			SelfTasks: []SelfTaskConfig{
				{Type: "comment", Weight: 6, EstimatedTokens: 800},
				{Type: "hotspot", Weight: 3, EstimatedTokens: 1200},
				{Type: "publish", Weight: 1, Cron: "0 12,19 * * *", EstimatedTokens: 2000},
			},
		},
		Protocol: ProtocolConfig{
			QueueDir:       "queue",
			StatusFile:     "status.json",
			CheckpointFile: "checkpoint.json",
			HeartbeatFile:  "heartbeat.json",
		},
		Platform: PlatformConfig{
			TimeoutSeconds: 30,
		},
		MemoryDBPath: "memory.db",
		UsageFile:    "usage.json",
	}
}

// Load reads config.yaml from the home directory, applying defaults,
// environment overrides, and normalization.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create redflow home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolvePath resolves a configured path relative to HomeDir unless absolute.
func (c Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.HomeDir, p)
}

// Fingerprint returns a stable hash of the settings that matter at runtime.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "agent=%s|log=%s|model=%s|tokens=%d|errors=%d|timeout=%d",
		c.AgentName, c.LogLevel, c.LLM.Model,
		c.Budget.DailyTokenLimit, c.Scheduler.MaxConsecutiveErrors, c.Scheduler.TaskTimeoutSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func normalize(cfg *Config) {
	if cfg.AgentName == "" {
		cfg.AgentName = "redflow"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "deepseek"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.Budget.DailyTokenLimit <= 0 {
		cfg.Budget.DailyTokenLimit = 100_000
	}
	if cfg.Budget.SingleRequestLimit <= 0 {
		cfg.Budget.SingleRequestLimit = 4_000
	}
	if cfg.Guard.ColdStartAgeDays <= 0 {
		cfg.Guard.ColdStartAgeDays = 30
	}
	if cfg.Guard.WordsFile == "" {
		cfg.Guard.WordsFile = "blockwords.yaml"
	}
	if cfg.Scheduler.MaxConsecutiveErrors <= 0 {
		cfg.Scheduler.MaxConsecutiveErrors = 10
	}
	if cfg.Scheduler.TaskTimeoutSeconds <= 0 {
		cfg.Scheduler.TaskTimeoutSeconds = int((5 * time.Minute).Seconds())
	}
	if cfg.Scheduler.CycleSleepMinSeconds <= 0 {
		cfg.Scheduler.CycleSleepMinSeconds = 60
	}
	if cfg.Scheduler.CycleSleepMaxSeconds < cfg.Scheduler.CycleSleepMinSeconds {
		cfg.Scheduler.CycleSleepMaxSeconds = cfg.Scheduler.CycleSleepMinSeconds + 240
	}
	if cfg.Scheduler.SelfTaskProbability <= 0 || cfg.Scheduler.SelfTaskProbability > 1 {
		cfg.Scheduler.SelfTaskProbability = 0.6
	}
	if cfg.Protocol.QueueDir == "" {
		cfg.Protocol.QueueDir = "queue"
	}
	if cfg.Protocol.StatusFile == "" {
		cfg.Protocol.StatusFile = "status.json"
	}
	if cfg.Protocol.CheckpointFile == "" {
		cfg.Protocol.CheckpointFile = "checkpoint.json"
	}
	if cfg.Protocol.HeartbeatFile == "" {
		cfg.Protocol.HeartbeatFile = "heartbeat.json"
	}
	if cfg.Platform.TimeoutSeconds <= 0 {
		cfg.Platform.TimeoutSeconds = 30
	}
	if cfg.MemoryDBPath == "" {
		cfg.MemoryDBPath = "memory.db"
	}
	if cfg.UsageFile == "" {
		cfg.UsageFile = "usage.json"
	}
}

func validate(cfg *Config) error {
	if cfg.Scheduler.SilentStartHour < 0 || cfg.Scheduler.SilentStartHour > 23 {
		return fmt.Errorf("silent_start_hour %d out of range 0..23", cfg.Scheduler.SilentStartHour)
	}
	if cfg.Scheduler.SilentEndHour < 0 || cfg.Scheduler.SilentEndHour > 23 {
		return fmt.Errorf("silent_end_hour %d out of range 0..23", cfg.Scheduler.SilentEndHour)
	}
	for _, st := range cfg.Scheduler.SelfTasks {
		switch st.Type {
		case "comment", "publish", "hotspot":
		default:
			return fmt.Errorf("unknown self task type %q", st.Type)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("REDFLOW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("REDFLOW_AGENT_NAME"); raw != "" {
		cfg.AgentName = raw
	}
	if raw := os.Getenv("REDFLOW_LLM_API_KEY"); raw != "" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("REDFLOW_LLM_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("REDFLOW_DAILY_TOKEN_LIMIT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Budget.DailyTokenLimit = v
		}
	}
	if raw := os.Getenv("REDFLOW_TASK_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Scheduler.TaskTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("REDFLOW_ACCOUNT_AGE_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Guard.AccountAgeDays = v
		}
	}
	if raw := os.Getenv("REDFLOW_PLATFORM_TOKEN"); raw != "" {
		cfg.Platform.Token = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
}

// SaveSample writes a commented starter config if none exists. Returns the
// path written, or "" when the file already existed.
func SaveSample(homeDir string) (string, error) {
	path := ConfigPath(homeDir)
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	cfg := defaultConfig()
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal sample config: %w", err)
	}
	header := "# redflow subagent configuration\n# Values omitted here fall back to built-in defaults.\n"
	if err := os.WriteFile(path, append([]byte(header), out...), 0o644); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return path, nil
}
