package dispatch

import (
	"strings"
	"testing"
)

func TestChunker_ShortTextPassesThrough(t *testing.T) {
	c := &Chunker{Limit: 100, Measure: RuneCount}
	chunks := c.Split("hello world")
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Errorf("got %q, want single unchanged chunk", chunks)
	}
}

func TestChunker_PrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("a", 40)
	para2 := strings.Repeat("b", 40)
	para3 := strings.Repeat("c", 40)
	text := para1 + "\n\n" + para2 + "\n\n" + para3

	c := &Chunker{Limit: 90, Measure: RuneCount}
	chunks := c.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], para1) || !strings.Contains(chunks[0], para2) {
		t.Errorf("first chunk should pack two paragraphs, got %q", chunks[0])
	}
	if !strings.Contains(chunks[1], para3) {
		t.Errorf("second chunk should hold the third paragraph, got %q", chunks[1])
	}
}

func TestChunker_OversizedFenceStaysBalanced(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, strings.Repeat("x", 60))
	}
	text := "intro\n```go\n" + strings.Join(lines, "\n") + "\n```\noutro"

	c := &Chunker{Limit: 500, Measure: RuneCount}
	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("expected the fence to split, got %d chunks", len(chunks))
	}
	for i, chunk := range chunks {
		if n := strings.Count(chunk, "```"); n%2 != 0 {
			t.Errorf("chunk %d has %d fence markers (unbalanced):\n%s", i, n, chunk)
		}
		if c.Measure(chunk) > c.Limit {
			t.Errorf("chunk %d is %d wide, over limit %d", i, c.Measure(chunk), c.Limit)
		}
	}

	// No code line may be lost or split across a fence boundary.
	joined := strings.Join(chunks, "\n")
	if got := strings.Count(joined, strings.Repeat("x", 60)); got != 50 {
		t.Errorf("code lines survived = %d, want 50", got)
	}
	if !strings.Contains(chunks[0], "intro") || !strings.Contains(chunks[len(chunks)-1], "outro") {
		t.Errorf("prose around the fence was lost: %q ... %q", chunks[0], chunks[len(chunks)-1])
	}
}

func TestChunker_FenceLanguageCarriedToEveryPiece(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("y", 50))
	}
	text := "```python\n" + strings.Join(lines, "\n") + "\n```"

	c := &Chunker{Limit: 300, Measure: RuneCount}
	for i, chunk := range c.Split(text) {
		if strings.Contains(chunk, "```") && !strings.Contains(chunk, "```python") {
			t.Errorf("chunk %d lost the fence info string:\n%s", i, chunk)
		}
	}
}

func TestChunker_UnterminatedFenceThatFitsPassesThrough(t *testing.T) {
	text := "```\ncode line\nmore code"
	c := &Chunker{Limit: 1000, Measure: RuneCount}
	chunks := c.Split(text)
	// Fits in one chunk, so it passes through untouched.
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestChunker_HardWrapsUnbrokenRuns(t *testing.T) {
	text := strings.Repeat("z", 250)
	c := &Chunker{Limit: 100, Measure: RuneCount}
	chunks := c.Split(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for i, chunk := range chunks {
		if c.Measure(chunk) > 100 {
			t.Errorf("chunk %d over limit: %d", i, c.Measure(chunk))
		}
		total += len(chunk)
	}
	if total != 250 {
		t.Errorf("characters survived = %d, want 250", total)
	}
}

func TestChunker_DisplayWidthCountsCJKDouble(t *testing.T) {
	if w := DisplayWidth("日本語"); w != 6 {
		t.Errorf("DisplayWidth(日本語) = %d, want 6", w)
	}
	text := strings.Repeat("中", 30)
	c := &Chunker{Limit: 20, Measure: DisplayWidth}
	for i, chunk := range c.Split(text) {
		if DisplayWidth(chunk) > 20 {
			t.Errorf("chunk %d display width %d exceeds 20", i, DisplayWidth(chunk))
		}
	}
}

func TestChunkLimitFor(t *testing.T) {
	tests := []struct {
		channel   string
		overrides map[string]int
		want      int
	}{
		{"discord", nil, 2000},
		{"telegram", nil, 4096},
		{"twitch", nil, 500},
		{"unknown", nil, fallbackChunkLimit},
		{"discord", map[string]int{"discord": 1500}, 1500},
	}
	for _, tt := range tests {
		if got := ChunkLimitFor(tt.channel, tt.overrides); got != tt.want {
			t.Errorf("ChunkLimitFor(%s) = %d, want %d", tt.channel, got, tt.want)
		}
	}
}
