package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/branchpoint/claudegate/internal/platform"
)

func TestParseChatIDAcceptsNumeric(t *testing.T) {
	id, err := parseChatID("12345")
	if err != nil {
		t.Fatalf("parseChatID: %v", err)
	}
	if id != 12345 {
		t.Errorf("got %d", id)
	}
}

func TestParseChatIDRejectsNonNumeric(t *testing.T) {
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Error("expected an error for a non-numeric chat id")
	}
}

func TestTelegramParseModeMapsKnownModes(t *testing.T) {
	if got := telegramParseMode("MarkdownV2"); got != tgbotapi.ModeMarkdownV2 {
		t.Errorf("got %q", got)
	}
	if got := telegramParseMode("markdown"); got != tgbotapi.ModeMarkdown {
		t.Errorf("got %q", got)
	}
}

func TestTelegramParseModeDefaultsToEmpty(t *testing.T) {
	if got := telegramParseMode(platform.ParseMode("unknown")); got != "" {
		t.Errorf("expected an unrecognized parse mode to map to \"\", got %q", got)
	}
}

func TestBotNameIsTelegram(t *testing.T) {
	b := &Bot{}
	if b.Name() != "telegram" {
		t.Errorf("got %q", b.Name())
	}
}

func TestBotBatchDeleteUnsupported(t *testing.T) {
	b := &Bot{}
	if b.BatchDeleteSupported() {
		t.Error("expected the Bot API to report no batch-delete support")
	}
}

func TestBotFireAndForgetRuns(t *testing.T) {
	b := &Bot{}
	done := make(chan struct{})
	b.FireAndForget(func() { close(done) })
	<-done
}
