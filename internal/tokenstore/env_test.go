package tokenstore

import (
	"context"
	"testing"
)

func TestEnvStoreReadsSetVariable(t *testing.T) {
	t.Setenv("CLAUDEGATE_TEST_KEY", "sk-test-456")

	s, err := NewEnvStore("CLAUDEGATE_TEST_KEY")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}
	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "sk-test-456" {
		t.Errorf("got %q", got)
	}
}

func TestNewEnvStoreRejectsUnsetVariable(t *testing.T) {
	if _, err := NewEnvStore("CLAUDEGATE_TEST_DEFINITELY_UNSET"); err == nil {
		t.Error("expected an error constructing an EnvStore for an unset variable")
	}
}

func TestNewEnvStoreRejectsEmptyKey(t *testing.T) {
	if _, err := NewEnvStore(""); err == nil {
		t.Error("expected an error for an empty environment key")
	}
}

func TestEnvStoreWriteIsUnsupported(t *testing.T) {
	t.Setenv("CLAUDEGATE_TEST_KEY", "sk-test-456")

	s, err := NewEnvStore("CLAUDEGATE_TEST_KEY")
	if err != nil {
		t.Fatalf("NewEnvStore: %v", err)
	}
	if err := s.Write(context.Background(), "sk-new"); err == nil {
		t.Error("expected Write to fail for a read-only environment-backed store")
	}
}
