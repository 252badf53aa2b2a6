package translate

import "strings"

// ChunkKind classifies a fragment produced by ThinkTagParser.
type ChunkKind int

const (
	ChunkText ChunkKind = iota
	ChunkThinking
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ThinkTagParser classifies an inline character stream into THINKING/TEXT
// regions delimited by <think>...</think> sentinels. It is pure and holds no
// goroutine state; Feed may be called repeatedly with successive chunks of an
// upstream stream, and partial sentinels spanning a chunk boundary are held
// back until they can be disambiguated.
type ThinkTagParser struct {
	inThinking bool
	pending    string // held-back partial sentinel prefix
}

// Fragment is one classified piece of output.
type Fragment struct {
	Kind ChunkKind
	Text string
}

// Feed classifies chunk, returning fragments in encounter order. Any
// unresolved partial sentinel is held in p.pending until a future Feed or
// Flush call resolves it.
func (p *ThinkTagParser) Feed(chunk string) []Fragment {
	buf := p.pending + chunk
	p.pending = ""
	var out []Fragment

	for {
		tag := thinkClose
		kind := ChunkThinking
		if !p.inThinking {
			tag = thinkOpen
			kind = ChunkText
		}

		idx := strings.Index(buf, tag)
		if idx == -1 {
			// No full sentinel present. Check whether the buffer's tail could
			// be the start of one; if so, hold it back.
			holdFrom := longestPartialSuffixMatch(buf, tag)
			out = appendFragment(out, kind, buf[:holdFrom])
			p.pending = buf[holdFrom:]
			return out
		}

		if idx > 0 {
			out = appendFragment(out, kind, buf[:idx])
		}
		p.inThinking = !p.inThinking
		buf = buf[idx+len(tag):]
	}
}

// Flush emits any held-back partial sentinel as literal text of the current
// region's kind (a lone "<" or similar that never resolved into a tag).
func (p *ThinkTagParser) Flush() []Fragment {
	if p.pending == "" {
		return nil
	}
	kind := ChunkText
	if p.inThinking {
		kind = ChunkThinking
	}
	frag := []Fragment{{Kind: kind, Text: p.pending}}
	p.pending = ""
	return frag
}

func appendFragment(frags []Fragment, kind ChunkKind, text string) []Fragment {
	if text == "" {
		return frags
	}
	if n := len(frags); n > 0 && frags[n-1].Kind == kind {
		frags[n-1].Text += text
		return frags
	}
	return append(frags, Fragment{Kind: kind, Text: text})
}

// longestPartialSuffixMatch returns the index in buf after which the
// remaining suffix is a (possibly empty) prefix of tag, i.e. the point
// before which buf is safe to emit as-is.
func longestPartialSuffixMatch(buf, tag string) int {
	maxLen := len(tag) - 1
	if maxLen > len(buf) {
		maxLen = len(buf)
	}
	for l := maxLen; l > 0; l-- {
		if strings.HasPrefix(tag, buf[len(buf)-l:]) {
			return len(buf) - l
		}
	}
	return len(buf)
}
