package discord

import (
	"context"
	"testing"
)

func TestNewBuildsSessionFromToken(t *testing.T) {
	b, err := New(Config{Token: "fake-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.session == nil {
		t.Error("expected a discordgo session to be constructed")
	}
}

func TestBotNameIsDiscord(t *testing.T) {
	b, err := New(Config{Token: "fake-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != "discord" {
		t.Errorf("got %q", b.Name())
	}
}

func TestBotBatchDeleteSupported(t *testing.T) {
	b, err := New(Config{Token: "fake-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !b.BatchDeleteSupported() {
		t.Error("expected Discord to report batch-delete support")
	}
}

func TestQueueDeleteMessagesNoopOnEmptyList(t *testing.T) {
	b, err := New(Config{Token: "fake-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.QueueDeleteMessages(context.Background(), "chan-1", nil, false); err != nil {
		t.Errorf("expected deleting an empty message list to be a no-op, got %v", err)
	}
}

func TestBotFireAndForgetRuns(t *testing.T) {
	b, err := New(Config{Token: "fake-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan struct{})
	b.FireAndForget(func() { close(done) })
	<-done
}
