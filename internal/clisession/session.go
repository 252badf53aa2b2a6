// Package clisession implements the CLISession port of spec.md §6: a
// bounded registry of subprocess-backed Claude CLI instances, each emitting
// a newline-delimited JSON event stream over stdout.
package clisession

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/google/uuid"
)

// Event is one line of the CLI's streaming protocol. The field set is a
// flattened union of every known event shape from spec.md §6
// (session_info, thinking_*, text_*, tool_use_*, tool_result, block_stop,
// error, complete); unused fields are simply absent from a given line.
type Event struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Name        string          `json:"name,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	PartialJSON string          `json:"partial_json,omitempty"`

	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	Message string `json:"message,omitempty"`

	SessionID string `json:"session_id,omitempty"`
}

// Session is a single live CLI conversation.
type Session interface {
	// StartTask runs one turn of the conversation and streams its events.
	// When sessionID is non-empty and forkSession is true, the CLI is asked
	// to fork a new session whose initial state copies sessionID's history.
	StartTask(ctx context.Context, prompt, sessionID string, forkSession bool) (<-chan Event, error)
}

// Stats mirrors spec.md §6's get_stats() -> {active_sessions}.
type Stats struct {
	ActiveSessions int
}

// Manager is the CLISession port consumed by internal/handler.
type Manager interface {
	GetOrCreateSession(ctx context.Context, sessionID string) (sess Session, id string, isNew bool, err error)
	RegisterRealSessionID(ctx context.Context, tempID, realID string) error
	RemoveSession(ctx context.Context, id string) error
	StopAll(ctx context.Context) error
	Stats() Stats
}

// Config configures the subprocess CLI invocation.
type Config struct {
	// BinaryPath is the path to the Claude CLI executable.
	BinaryPath string
	// ExtraArgs are appended to every invocation (e.g. sandbox flags).
	ExtraArgs []string
	// MaxSessions bounds concurrently live subprocesses; GetOrCreateSession
	// returns an error once the bound is reached and sessionID does not name
	// a live session (an empty or unknown id would need a new one).
	MaxSessions int
}

type processManager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*processSession // id (temp or real) -> session
}

// NewProcessManager constructs a Manager that shells out to cfg.BinaryPath
// per session, exactly as the Claude Code CLI's own `--output-format
// stream-json` mode is invoked.
func NewProcessManager(cfg Config) Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 16
	}
	return &processManager{
		cfg:      cfg,
		sessions: map[string]*processSession{},
	}
}

func (m *processManager) GetOrCreateSession(ctx context.Context, sessionID string) (Session, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		if s, ok := m.sessions[sessionID]; ok {
			return s, sessionID, false, nil
		}
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, "", false, fmt.Errorf("clisession: session limit reached (%d active)", m.cfg.MaxSessions)
	}

	tempID := "tmp_" + uuid.NewString()
	s := &processSession{cfg: m.cfg}
	m.sessions[tempID] = s
	return s, tempID, true, nil
}

func (m *processManager) RegisterRealSessionID(ctx context.Context, tempID, realID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tempID]
	if !ok {
		return fmt.Errorf("clisession: unknown temp session %q", tempID)
	}
	delete(m.sessions, tempID)
	m.sessions[realID] = s
	return nil
}

func (m *processManager) RemoveSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *processManager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*processSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = map[string]*processSession{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.kill()
	}
	return nil
}

func (m *processManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{ActiveSessions: len(m.sessions)}
}

// processSession wraps one subprocess invocation of the CLI. A fresh process
// is spawned per StartTask call; cmd is retained only so a concurrent
// stop_all can kill an in-flight turn.
type processSession struct {
	cfg Config

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (s *processSession) StartTask(ctx context.Context, prompt, sessionID string, forkSession bool) (<-chan Event, error) {
	args := append([]string{}, s.cfg.ExtraArgs...)
	args = append(args, "--output-format", "stream-json", "--print", prompt)
	if sessionID != "" {
		if forkSession {
			args = append(args, "--fork-session", "--session-id", sessionID)
		} else {
			args = append(args, "--resume", sessionID)
		}
	}

	cmd := exec.CommandContext(ctx, s.cfg.BinaryPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("clisession: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("clisession: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("clisession: start: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	events := make(chan Event, 32)

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			slog.Debug("clisession: stderr", "line", scanner.Text())
		}
	}()

	go func() {
		defer close(events)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				slog.Warn("clisession: malformed event line, skipping", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			select {
			case events <- Event{Type: "error", Message: err.Error()}:
			default:
			}
		}
	}()

	return events, nil
}

func (s *processSession) kill() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
