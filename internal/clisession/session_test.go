package clisession

import (
	"context"
	"testing"
)

func TestGetOrCreateSessionNewTempID(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 2})
	sess, id, isNew, err := m.GetOrCreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if sess == nil {
		t.Fatalf("expected a non-nil session")
	}
	if !isNew {
		t.Errorf("expected a freshly created session to report isNew=true")
	}
	if id == "" {
		t.Errorf("expected a non-empty temp session id")
	}
}

func TestGetOrCreateSessionReusesKnownID(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 2})
	_, id, _, err := m.GetOrCreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	_, id2, isNew, err := m.GetOrCreateSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrCreateSession reuse failed: %v", err)
	}
	if isNew {
		t.Errorf("expected reusing an existing session id to report isNew=false")
	}
	if id2 != id {
		t.Errorf("expected the same id back, got %q want %q", id2, id)
	}
}

func TestGetOrCreateSessionEnforcesMaxSessions(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 1})

	if _, _, _, err := m.GetOrCreateSession(context.Background(), ""); err != nil {
		t.Fatalf("first GetOrCreateSession failed: %v", err)
	}
	if _, _, _, err := m.GetOrCreateSession(context.Background(), ""); err == nil {
		t.Errorf("expected the second session to be rejected once MaxSessions is reached")
	}
}

func TestRegisterRealSessionIDMigratesTempEntry(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 2})
	_, tempID, _, err := m.GetOrCreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	if err := m.RegisterRealSessionID(context.Background(), tempID, "real-session-1"); err != nil {
		t.Fatalf("RegisterRealSessionID failed: %v", err)
	}

	if _, _, isNew, err := m.GetOrCreateSession(context.Background(), "real-session-1"); err != nil || isNew {
		t.Errorf("expected the real session id to now resolve to the migrated session, isNew=%v err=%v", isNew, err)
	}
	if _, id, isNew, err := m.GetOrCreateSession(context.Background(), tempID); err != nil || !isNew || id == tempID {
		t.Errorf("expected the old temp id to be gone after migration (a fresh session instead), id=%q isNew=%v err=%v", id, isNew, err)
	}
}

func TestRegisterRealSessionIDUnknownTempID(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 2})
	if err := m.RegisterRealSessionID(context.Background(), "nonexistent", "real-1"); err == nil {
		t.Errorf("expected an error when registering a real id for an unknown temp id")
	}
}

func TestRemoveSessionFreesSlot(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 1})
	_, id, _, err := m.GetOrCreateSession(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	if err := m.RemoveSession(context.Background(), id); err != nil {
		t.Fatalf("RemoveSession failed: %v", err)
	}

	if _, _, _, err := m.GetOrCreateSession(context.Background(), ""); err != nil {
		t.Errorf("expected a freed slot to admit a new session, got: %v", err)
	}
}

func TestStatsReflectsActiveSessions(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 3})
	if got := m.Stats().ActiveSessions; got != 0 {
		t.Errorf("expected 0 active sessions initially, got %d", got)
	}
	_, _, _, _ = m.GetOrCreateSession(context.Background(), "")
	if got := m.Stats().ActiveSessions; got != 1 {
		t.Errorf("expected 1 active session, got %d", got)
	}
}

func TestStopAllClearsSessions(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude", MaxSessions: 3})
	_, _, _, _ = m.GetOrCreateSession(context.Background(), "")
	_, _, _, _ = m.GetOrCreateSession(context.Background(), "")

	if err := m.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if got := m.Stats().ActiveSessions; got != 0 {
		t.Errorf("expected 0 active sessions after StopAll, got %d", got)
	}
}

func TestNewProcessManagerDefaultsMaxSessions(t *testing.T) {
	m := NewProcessManager(Config{BinaryPath: "claude"})
	for i := 0; i < 16; i++ {
		if _, _, _, err := m.GetOrCreateSession(context.Background(), ""); err != nil {
			t.Fatalf("expected the default session cap to allow at least 16 sessions, failed at %d: %v", i, err)
		}
	}
}
