// Package parse implements the two output grammars the hub understands:
// raw terminal output from interactive shells and newline-delimited
// structured JSON from agent CLI invocations.
package parse

import (
	"regexp"
	"strings"

	"github.com/codedeck/deckd/internal/event"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07|[\x00-\x08\x0b-\x1f\x7f]`)

// StripANSI removes escape/control sequences from a chunk of terminal output.
func StripANSI(value string) string {
	if value == "" {
		return value
	}
	return ansiPattern.ReplaceAllString(value, "")
}

// promptGlyphs is the fixed set of shell prompt terminators. A line that is
// exactly one glyph, or ends with one followed only by whitespace, means the
// shell is idle. This is a heuristic, not a guarantee.
var promptGlyphs = []string{"$", "%", ">", "#", "❯"}

var thinkingMarkers = []string{"thinking", "...", "searching", "reading"}

// Tool-usage patterns, tried in priority order. First match wins.
var toolPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^using tool:\s*(\S+)\s*(.*)$`),
	regexp.MustCompile(`(?i)^running:\s*(\S+)\s*(.*)$`),
	regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`),
}

// TerminalParser classifies lines of interactive shell output. It keeps the
// code-fence state across lines, so one parser instance belongs to one session.
type TerminalParser struct {
	sessionID string
	pending   string
	inFence   bool
}

// NewTerminalParser creates a parser for one session's output stream.
func NewTerminalParser(sessionID string) *TerminalParser {
	return &TerminalParser{sessionID: sessionID}
}

// Feed consumes a raw output chunk and returns the events for every complete
// line it contains. A trailing partial line is held until the next chunk,
// unless it looks like a prompt (prompts never end in a newline).
func (p *TerminalParser) Feed(data string) []event.Event {
	p.pending += data

	var events []event.Event
	for {
		idx := strings.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(p.pending[:idx], "\r")
		p.pending = p.pending[idx+1:]
		if ev, ok := p.classify(line); ok {
			events = append(events, ev)
		}
	}

	// A prompt arrives without a trailing newline; classify the remainder
	// eagerly when it matches so subscribers learn the shell went idle.
	if p.pending != "" && isPromptLine(StripANSI(p.pending)) {
		ev := event.New(event.KindPrompt, p.sessionID, strings.TrimSpace(StripANSI(p.pending)))
		events = append(events, ev)
		p.pending = ""
	}

	return events
}

// ParseLine classifies a single complete line. Blank lines after stripping
// produce no event.
func (p *TerminalParser) ParseLine(line string) (event.Event, bool) {
	return p.classify(line)
}

func (p *TerminalParser) classify(raw string) (event.Event, bool) {
	line := StripANSI(raw)

	if strings.HasPrefix(strings.TrimSpace(line), "```") {
		trimmed := strings.TrimSpace(line)
		ev := event.New(event.KindCodeFence, p.sessionID, trimmed)
		p.inFence = !p.inFence
		ev.FenceOpen = p.inFence
		if p.inFence {
			ev.Language = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
		}
		return ev, true
	}

	// Inside a fence everything is literal text.
	if p.inFence {
		if strings.TrimSpace(line) == "" {
			return event.Event{}, false
		}
		return event.New(event.KindRawText, p.sessionID, line), true
	}

	if isPromptLine(line) {
		return event.New(event.KindPrompt, p.sessionID, strings.TrimSpace(line)), true
	}

	lower := strings.ToLower(line)
	for _, marker := range thinkingMarkers {
		if strings.Contains(lower, marker) {
			return event.New(event.KindThinking, p.sessionID, strings.TrimSpace(line)), true
		}
	}

	for _, pattern := range toolPatterns {
		if match := pattern.FindStringSubmatch(strings.TrimSpace(line)); match != nil {
			ev := event.New(event.KindToolCall, p.sessionID, strings.TrimSpace(line))
			ev.ToolName = match[1]
			ev.ToolAction = strings.TrimSpace(match[2])
			return ev, true
		}
	}

	if strings.TrimSpace(line) == "" {
		return event.Event{}, false
	}
	return event.New(event.KindRawText, p.sessionID, line), true
}

func isPromptLine(line string) bool {
	trimmed := strings.TrimRight(line, " \t")
	if trimmed == "" {
		return false
	}
	for _, glyph := range promptGlyphs {
		if trimmed == glyph {
			return true
		}
		if strings.HasSuffix(trimmed, glyph) && trimmed != line {
			// Ends with a glyph followed by trailing whitespace.
			return true
		}
	}
	// Common "user@host dir $ " prompts keep trailing space after the glyph.
	for _, glyph := range promptGlyphs {
		if strings.HasSuffix(line, glyph+" ") {
			return true
		}
	}
	return false
}

// TurnAccumulator buffers raw text until the shell shows a prompt again,
// modelling "the CLI finished talking" as one complete turn.
type TurnAccumulator struct {
	parser *TerminalParser
	lines  []string
}

// NewTurnAccumulator creates an accumulator backed by a fresh terminal parser.
func NewTurnAccumulator(sessionID string) *TurnAccumulator {
	return &TurnAccumulator{parser: NewTerminalParser(sessionID)}
}

// Feed consumes a chunk. When a prompt is detected, the accumulated text is
// returned as one complete turn and the buffer resets. Returns the turn text
// and whether a turn completed.
func (a *TurnAccumulator) Feed(data string) (string, bool) {
	events := a.parser.Feed(data)
	for _, ev := range events {
		switch ev.Kind {
		case event.KindPrompt:
			if len(a.lines) == 0 {
				continue
			}
			turn := strings.Join(a.lines, "\n")
			a.lines = nil
			return turn, true
		case event.KindRawText, event.KindCodeFence, event.KindToolCall:
			a.lines = append(a.lines, ev.Content)
		}
	}
	return "", false
}

// Pending returns the text buffered so far for the current turn.
func (a *TurnAccumulator) Pending() string {
	return strings.Join(a.lines, "\n")
}
