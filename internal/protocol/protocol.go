// Package protocol is the file-based exchange with the parent process:
// a task queue directory plus status, checkpoint, and heartbeat files.
// Cross-process access is serialized with an exclusive lock file held
// only for the duration of each read-modify-write.
package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/redflow/internal/config"
)

// Task is one unit of work from the parent queue or the self-task
// policy. Files are validated against a schema at the boundary; nothing
// downstream re-checks the shape.
type Task struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Keyword         string `json:"keyword,omitempty"`
	Topic           string `json:"topic,omitempty"`
}

// Checkpoint restores the error budget across restarts. A crash must
// not reset consecutive errors, or a crash-loop would never trip the
// breaker.
type Checkpoint struct {
	Timestamp         time.Time `json:"timestamp"`
	LastTask          string    `json:"last_task"`
	LastResultStatus  string    `json:"result"`
	ConsecutiveErrors int       `json:"errors"`
}

// Heartbeat is overwritten every cycle and read by an external
// supervisor to detect hangs.
type Heartbeat struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Errors    int       `json:"errors"`
}

// StatusReport is the per-cycle report consumed by the parent.
type StatusReport struct {
	Task       string    `json:"task"`
	Result     string    `json:"result"`
	Agent      string    `json:"agent"`
	ReportedAt time.Time `json:"reported_at"`
}

const (
	lockRetryInterval = 50 * time.Millisecond
	lockTimeout       = 5 * time.Second
	// A lock older than this belongs to a dead process.
	lockStaleAfter = 30 * time.Second
)

type Protocol struct {
	queueDir       string
	statusFile     string
	checkpointFile string
	heartbeatFile  string
	lockFile       string
	agent          string
	logger         *slog.Logger
	now            func() time.Time
}

// New resolves the configured paths under homeDir and creates the
// queue directory.
func New(cfg config.ProtocolConfig, homeDir, agent string, logger *slog.Logger) (*Protocol, error) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(homeDir, p)
	}
	p := &Protocol{
		queueDir:       resolve(cfg.QueueDir),
		statusFile:     resolve(cfg.StatusFile),
		checkpointFile: resolve(cfg.CheckpointFile),
		heartbeatFile:  resolve(cfg.HeartbeatFile),
		agent:          agent,
		logger:         logger,
		now:            time.Now,
	}
	p.lockFile = filepath.Join(p.queueDir, ".lock")
	if err := os.MkdirAll(p.queueDir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return p, nil
}

// NextTask consumes the lexicographically-first task file under the
// lock: read, validate, delete. Files that fail validation are renamed
// aside with a .rejected suffix so a malformed task cannot wedge the
// queue head forever.
func (p *Protocol) NextTask() (*Task, bool, error) {
	unlock, err := p.acquireLock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	entries, err := os.ReadDir(p.queueDir)
	if err != nil {
		return nil, false, fmt.Errorf("read queue dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, false, nil
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(p.queueDir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("read task file: %w", err)
		}
		task, err := ParseTask(raw)
		if err != nil {
			p.logger.Warn("rejecting malformed task file", "file", name, "error", err)
			_ = os.Rename(path, path+".rejected")
			continue
		}
		if err := os.Remove(path); err != nil {
			return nil, false, fmt.Errorf("dequeue task file: %w", err)
		}
		return task, true, nil
	}
	return nil, false, nil
}

// QueueDepth counts the pending task files.
func (p *Protocol) QueueDepth() (int, error) {
	entries, err := os.ReadDir(p.queueDir)
	if err != nil {
		return 0, fmt.Errorf("read queue dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}

// Enqueue writes a task file into the queue, named so time order and
// lexicographic order agree. Used by tests and the doctor command.
func (p *Protocol) Enqueue(task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := ParseTask(raw); err != nil {
		return err
	}
	unlock, err := p.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	// The uuid suffix keeps two enqueues in the same nanosecond from
	// colliding.
	name := fmt.Sprintf("%d-%s-%s.json", p.now().UnixNano(), task.Type, uuid.NewString())
	return writeFileAtomic(filepath.Join(p.queueDir, name), raw)
}

// WriteStatus overwrites the status report, last-write-wins.
func (p *Protocol) WriteStatus(task, result string) error {
	report := StatusReport{
		Task:       task,
		Result:     result,
		Agent:      p.agent,
		ReportedAt: p.now().UTC(),
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return writeFileAtomic(p.statusFile, raw)
}

// WriteCheckpoint overwrites the checkpoint after a cycle.
func (p *Protocol) WriteCheckpoint(cp Checkpoint) error {
	cp.Timestamp = p.now().UTC()
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return writeFileAtomic(p.checkpointFile, raw)
}

// ReadCheckpoint restores the last checkpoint. A missing or corrupt
// file yields an empty checkpoint rather than an error; availability
// wins over a torn state file.
func (p *Protocol) ReadCheckpoint() Checkpoint {
	raw, err := os.ReadFile(p.checkpointFile)
	if err != nil {
		return Checkpoint{}
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		p.logger.Warn("corrupt checkpoint file, starting fresh", "error", err)
		return Checkpoint{}
	}
	return cp
}

// WriteHeartbeat overwrites the liveness file.
func (p *Protocol) WriteHeartbeat(status string, errors int) error {
	hb := Heartbeat{Timestamp: p.now().UTC(), Status: status, Errors: errors}
	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return writeFileAtomic(p.heartbeatFile, raw)
}

// ReadHeartbeat is used by the status subcommand, not the agent loop.
func (p *Protocol) ReadHeartbeat() (Heartbeat, error) {
	raw, err := os.ReadFile(p.heartbeatFile)
	if err != nil {
		return Heartbeat{}, err
	}
	var hb Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return Heartbeat{}, fmt.Errorf("parse heartbeat: %w", err)
	}
	return hb, nil
}

// acquireLock takes the queue lock with O_EXCL and a sleep-poll retry.
// A lock file older than lockStaleAfter is assumed abandoned and
// broken.
func (p *Protocol) acquireLock() (func(), error) {
	deadline := p.now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(p.lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(p.lockFile) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire queue lock: %w", err)
		}
		if info, statErr := os.Stat(p.lockFile); statErr == nil {
			if p.now().Sub(info.ModTime()) > lockStaleAfter {
				p.logger.Warn("breaking stale queue lock", "age", p.now().Sub(info.ModTime()))
				_ = os.Remove(p.lockFile)
				continue
			}
		}
		if p.now().After(deadline) {
			return nil, fmt.Errorf("acquire queue lock: timeout after %s", lockTimeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

// writeFileAtomic writes via a temp file and rename so a reader never
// observes a torn file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
