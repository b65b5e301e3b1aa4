package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/deckd/internal/event"
)

func TestStripANSI(t *testing.T) {
	assert.Equal(t, "hello", StripANSI("\x1b[1;32mhello\x1b[0m"))
	assert.Equal(t, "title", StripANSI("\x1b]0;ignored\x07title"))
	assert.Equal(t, "", StripANSI(""))
	assert.Equal(t, "plain", StripANSI("plain"))
}

func TestFeedClassifiesLines(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind event.Kind
	}{
		{"plain text", "compiled 3 packages", event.KindRawText},
		{"bare prompt glyph", "$", event.KindPrompt},
		{"full prompt", "user@host ~/repo $ ", event.KindPrompt},
		{"thinking marker", "Thinking about the answer", event.KindThinking},
		{"ellipsis", "fetching dependencies...", event.KindThinking},
		{"tool usage", "Using tool: grep pattern main.go", event.KindToolCall},
		{"bracket tool tag", "[bash] ls -la", event.KindToolCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTerminalParser("s1")
			events := p.Feed(tt.line + "\n")
			require.Len(t, events, 1)
			assert.Equal(t, tt.kind, events[0].Kind)
			assert.Equal(t, "s1", events[0].SessionID)
		})
	}
}

func TestFeedToolDetails(t *testing.T) {
	p := NewTerminalParser("s1")
	events := p.Feed("Using tool: grep pattern main.go\n")
	require.Len(t, events, 1)
	assert.Equal(t, "grep", events[0].ToolName)
	assert.Equal(t, "pattern main.go", events[0].ToolAction)
}

func TestFeedCodeFence(t *testing.T) {
	p := NewTerminalParser("s1")

	events := p.Feed("```go\nfunc main() {}\n```\n")
	require.Len(t, events, 3)

	assert.Equal(t, event.KindCodeFence, events[0].Kind)
	assert.True(t, events[0].FenceOpen)
	assert.Equal(t, "go", events[0].Language)

	// Interior lines are literal, never reclassified.
	assert.Equal(t, event.KindRawText, events[1].Kind)
	assert.Equal(t, "func main() {}", events[1].Content)

	assert.Equal(t, event.KindCodeFence, events[2].Kind)
	assert.False(t, events[2].FenceOpen)
}

func TestFeedFenceSuppressesOtherRules(t *testing.T) {
	p := NewTerminalParser("s1")
	events := p.Feed("```\nUsing tool: grep something\n```\n")
	require.Len(t, events, 3)
	assert.Equal(t, event.KindRawText, events[1].Kind)
}

func TestFeedPartialLineCarry(t *testing.T) {
	p := NewTerminalParser("s1")

	events := p.Feed("comp")
	assert.Empty(t, events)

	events = p.Feed("iled ok\n")
	require.Len(t, events, 1)
	assert.Equal(t, event.KindRawText, events[0].Kind)
	assert.Equal(t, "compiled ok", events[0].Content)
}

func TestFeedPromptWithoutNewline(t *testing.T) {
	p := NewTerminalParser("s1")

	events := p.Feed("user@host ~/repo $ ")
	require.Len(t, events, 1)
	assert.Equal(t, event.KindPrompt, events[0].Kind)

	// The prompt remainder was consumed, not carried forward.
	events = p.Feed("echo hi\n")
	require.Len(t, events, 1)
	assert.Equal(t, "echo hi", events[0].Content)
}

func TestFeedSkipsBlankLines(t *testing.T) {
	p := NewTerminalParser("s1")
	events := p.Feed("\n\n\n")
	assert.Empty(t, events)
}

func TestTurnAccumulator(t *testing.T) {
	a := NewTurnAccumulator("s1")

	turn, done := a.Feed("first line\nsecond line\n")
	assert.False(t, done)
	assert.Empty(t, turn)
	assert.Equal(t, "first line\nsecond line", a.Pending())

	turn, done = a.Feed("$ ")
	require.True(t, done)
	assert.Equal(t, "first line\nsecond line", turn)
	assert.Empty(t, a.Pending())
}

func TestTurnAccumulatorIgnoresEmptyTurn(t *testing.T) {
	a := NewTurnAccumulator("s1")
	_, done := a.Feed("$ ")
	assert.False(t, done)
}
