package translate

import "testing"

func fragTexts(frags []Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Text
	}
	return out
}

func TestThinkTagParserPlainText(t *testing.T) {
	var p ThinkTagParser
	frags := p.Feed("hello world")
	if len(frags) != 1 || frags[0].Kind != ChunkText || frags[0].Text != "hello world" {
		t.Fatalf("got %+v", frags)
	}
}

func TestThinkTagParserSingleChunkThinking(t *testing.T) {
	var p ThinkTagParser
	frags := p.Feed("before <think>reasoning</think> after")
	if len(frags) != 3 {
		t.Fatalf("expected 3 fragments, got %+v", frags)
	}
	if frags[0].Kind != ChunkText || frags[0].Text != "before " {
		t.Errorf("got %+v", frags[0])
	}
	if frags[1].Kind != ChunkThinking || frags[1].Text != "reasoning" {
		t.Errorf("got %+v", frags[1])
	}
	if frags[2].Kind != ChunkText || frags[2].Text != " after" {
		t.Errorf("got %+v", frags[2])
	}
}

func TestThinkTagParserSentinelSplitAcrossChunks(t *testing.T) {
	var p ThinkTagParser
	f1 := p.Feed("before <thi")
	f2 := p.Feed("nk>reasoning</think> after")

	all := append(append([]Fragment{}, f1...), f2...)
	if got := fragTexts(all); len(got) == 0 {
		t.Fatalf("expected some fragments")
	}

	var text, thinking string
	for _, f := range all {
		if f.Kind == ChunkText {
			text += f.Text
		} else {
			thinking += f.Text
		}
	}
	if text != "before  after" {
		t.Errorf("expected reconstructed text %q, got %q", "before  after", text)
	}
	if thinking != "reasoning" {
		t.Errorf("expected reconstructed thinking %q, got %q", "reasoning", thinking)
	}
}

func TestThinkTagParserFlushEmitsUnresolvedTail(t *testing.T) {
	var p ThinkTagParser
	p.Feed("trailing <th")
	frags := p.Flush()
	if len(frags) != 1 || frags[0].Text != "<th" {
		t.Fatalf("expected the unresolved partial sentinel to flush as text, got %+v", frags)
	}
}

func TestThinkTagParserUnterminatedThinkingFlush(t *testing.T) {
	var p ThinkTagParser
	p.Feed("<think>still reasoning")
	frags := p.Flush()
	if len(frags) != 0 {
		t.Errorf("expected no held-back fragment since the buffer was fully consumed as thinking text, got %+v", frags)
	}
}
