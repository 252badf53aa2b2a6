package translate

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// parserState mirrors original_source/providers/common/heuristic_tool_parser.py's
// ParserState enum.
type parserState int

const (
	stateText parserState = iota
	stateMatchingFunction
	stateParsingParameters
)

var (
	controlTokenRe = regexp.MustCompile(`<\|[^|>]{1,80}\|>`)
	funcStartRe    = regexp.MustCompile(`●\s*<function=([^>]+)>`)
	paramRe        = regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*?)(?:</parameter>|$)`)
)

// HeuristicToolParserBlock is the detected tool_use payload.
type HeuristicToolParserBlock struct {
	ID     string
	Name   string
	Params map[string]string
}

// HeuristicToolParser detects the textual tool-call syntax
// "● <function=Name><parameter=key>val</parameter>…" that some models emit
// as plain text instead of structured tool_calls.
type HeuristicToolParser struct {
	state       parserState
	buffer      string
	pendingTail string // held-back incomplete "<|..." control-token prefix
	funcName    string
	funcID      string
	params      map[string]string
	paramOrder  []string
}

// Feed appends chunk and returns any passthrough text plus any tool_use
// blocks detected so far.
func (p *HeuristicToolParser) Feed(chunk string) (string, []HeuristicToolParserBlock) {
	p.buffer += p.pendingTail + chunk
	p.pendingTail = ""
	p.buffer = stripCompleteControlTokens(p.buffer)
	p.buffer, p.pendingTail = splitIncompleteControlTokenTail(p.buffer)

	var text strings.Builder
	var blocks []HeuristicToolParserBlock

	for {
		switch p.state {
		case stateText:
			idx := strings.IndexRune(p.buffer, '●')
			if idx == -1 {
				text.WriteString(p.buffer)
				p.buffer = ""
				return text.String(), blocks
			}
			text.WriteString(p.buffer[:idx])
			p.buffer = p.buffer[idx:]
			p.state = stateMatchingFunction

		case stateMatchingFunction:
			loc := funcStartRe.FindStringSubmatchIndex(p.buffer)
			if loc == nil {
				if len(p.buffer) > 100 {
					// No match materialized; emit the leading marker as text
					// and revert to scanning.
					text.WriteRune('●')
					p.buffer = p.buffer[len("●"):]
					p.state = stateText
					continue
				}
				return text.String(), blocks
			}
			p.funcName = p.buffer[loc[2]:loc[3]]
			p.funcID = "toolu_heuristic_" + randHex8()
			p.params = map[string]string{}
			p.paramOrder = nil
			p.buffer = p.buffer[loc[1]:]
			p.state = stateParsingParameters

		case stateParsingParameters:
			for {
				loc := paramRe.FindStringSubmatchIndex(p.buffer)
				if loc == nil {
					break
				}
				// Only consume a match terminated by </parameter>; an
				// unterminated match runs to the end of the current buffer
				// and is left for a following chunk to extend.
				closed := strings.Contains(p.buffer[loc[0]:loc[1]], "</parameter>")
				if !closed && loc[1] != len(p.buffer) {
					break
				}
				if !closed {
					// Incomplete trailing parameter: wait for more input.
					break
				}
				key := p.buffer[loc[2]:loc[3]]
				val := p.buffer[loc[4]:loc[5]]
				if _, seen := p.params[key]; !seen {
					p.paramOrder = append(p.paramOrder, key)
				}
				p.params[key] = val
				p.buffer = p.buffer[loc[1]:]
			}

			nextMarker := strings.IndexRune(p.buffer, '●')
			hasOpenParamTag := strings.Contains(p.buffer, "<parameter=")
			trailingNonTagText := !hasOpenParamTag && strings.TrimSpace(p.buffer) != ""

			if nextMarker == -1 && !trailingNonTagText {
				return text.String(), blocks
			}

			blocks = append(blocks, p.emitToolCall())
			if nextMarker != -1 {
				// Leave the marker in place for the next TEXT scan iteration.
				p.state = stateText
				continue
			}
			// Trailing non-tag text passes through verbatim.
			text.WriteString(p.buffer)
			p.buffer = ""
			p.state = stateText
			return text.String(), blocks
		}
	}
}

// Flush force-emits any pending tool call at end-of-stream, even if the
// final </parameter> close tag never arrived.
func (p *HeuristicToolParser) Flush() []HeuristicToolParserBlock {
	if p.state != stateParsingParameters {
		return nil
	}
	// Extract one trailing partial parameter, closed or not.
	if loc := regexp.MustCompile(`(?s)<parameter=([^>]+)>(.*)$`).FindStringSubmatchIndex(p.buffer); loc != nil {
		key := p.buffer[loc[2]:loc[3]]
		val := p.buffer[loc[4]:loc[5]]
		val = strings.TrimSuffix(val, "</parameter>")
		if _, seen := p.params[key]; !seen {
			p.paramOrder = append(p.paramOrder, key)
		}
		p.params[key] = val
	}
	p.buffer = ""
	block := p.emitToolCall()
	p.state = stateText
	return []HeuristicToolParserBlock{block}
}

func (p *HeuristicToolParser) emitToolCall() HeuristicToolParserBlock {
	block := HeuristicToolParserBlock{
		ID:     p.funcID,
		Name:   p.funcName,
		Params: p.params,
	}
	p.funcName = ""
	p.funcID = ""
	p.params = nil
	p.paramOrder = nil
	return block
}

func stripCompleteControlTokens(s string) string {
	return controlTokenRe.ReplaceAllString(s, "")
}

// splitIncompleteControlTokenTail splits off a trailing "<|..." that has not
// yet resolved into a complete control token, so it is never leaked as text
// across a chunk boundary. The held tail is re-prepended on the next Feed.
func splitIncompleteControlTokenTail(buf string) (kept, held string) {
	idx := strings.LastIndex(buf, "<|")
	if idx == -1 {
		return buf, ""
	}
	tail := buf[idx:]
	if strings.Contains(tail, "|>") {
		return buf, ""
	}
	if len(tail) > 82 {
		// Cannot possibly still be an open control token (max 80 + delimiters).
		return buf, ""
	}
	return buf[:idx], tail
}

func randHex8() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
