package dispatch

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Per-channel outbound character limits. These are the providers' own hard
// caps, not tuning knobs; messages.chunk_limit overrides them per channel.
var defaultChunkLimits = map[string]int{
	"whatsapp":      4096,
	"telegram":      4096,
	"discord":       2000,
	"teams":         28000,
	"zalo":          2000,
	"zalo_personal": 2000,
	"twitch":        500,
	"feishu":        4000,
}

const fallbackChunkLimit = 4000

// ChunkLimitFor resolves the outbound text limit for a channel, with
// config overrides taking precedence over the built-in provider caps.
func ChunkLimitFor(channel string, overrides map[string]int) int {
	if n, ok := overrides[channel]; ok && n > 0 {
		return n
	}
	if n, ok := defaultChunkLimits[channel]; ok {
		return n
	}
	return fallbackChunkLimit
}

// Measure is the width function a Chunker sizes text with.
type Measure func(string) int

// RuneCount measures in runes — correct for providers that cap by Unicode
// code point (Telegram, Discord).
func RuneCount(s string) int { return len([]rune(s)) }

// DisplayWidth measures in terminal cells, counting CJK runes as two —
// closer to how Zalo and Feishu meter message size.
func DisplayWidth(s string) int { return runewidth.StringWidth(s) }

// Chunker splits outbound text to fit a channel's limit without breaking
// inside fenced code blocks, preferring paragraph, then line, then word
// boundaries.
type Chunker struct {
	Limit   int
	Measure Measure
}

// NewChunker builds a chunker for channel; CJK-heavy channels get
// display-width measurement.
func NewChunker(channel string, limit int) *Chunker {
	measure := RuneCount
	switch channel {
	case "zalo", "zalo_personal", "feishu":
		measure = DisplayWidth
	}
	return &Chunker{Limit: limit, Measure: measure}
}

// Split breaks text into chunks of at most Limit width. Fenced code blocks
// are never split mid-fence: an oversized fence is re-opened in each chunk
// so every emitted chunk carries balanced fence markers.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if c.Limit <= 0 || c.Measure(text) <= c.Limit {
		return []string{text}
	}

	var chunks []string
	var buf strings.Builder
	bufWidth := 0

	flush := func() {
		if s := strings.TrimRight(buf.String(), "\n"); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		bufWidth = 0
	}

	appendPiece := func(piece string) {
		w := c.Measure(piece)
		if bufWidth > 0 && bufWidth+w > c.Limit {
			flush()
		}
		// A piece that alone exceeds the limit is hard-wrapped by words.
		if w > c.Limit {
			for _, part := range c.splitByWords(piece) {
				pw := c.Measure(part)
				if bufWidth > 0 && bufWidth+pw > c.Limit {
					flush()
				}
				buf.WriteString(part)
				bufWidth += pw
			}
			return
		}
		buf.WriteString(piece)
		bufWidth += w
	}

	for _, seg := range parseSegments(text) {
		if seg.fenced {
			for _, piece := range c.splitFence(seg) {
				w := c.Measure(piece)
				if bufWidth > 0 && bufWidth+w > c.Limit {
					flush()
				}
				if w > c.Limit {
					// Pathological single line longer than the limit:
					// give the fence its own chunk rather than break it.
					flush()
					chunks = append(chunks, piece)
					continue
				}
				buf.WriteString(piece)
				bufWidth += w
			}
			continue
		}

		for _, para := range splitKeep(seg.text, "\n\n") {
			if c.Measure(para) <= c.Limit {
				appendPiece(para)
				continue
			}
			for _, line := range splitKeep(para, "\n") {
				appendPiece(line)
			}
		}
	}
	flush()
	return chunks
}

// splitByWords hard-wraps a single overlong line at spaces, falling back
// to rune boundaries for unbroken runs.
func (c *Chunker) splitByWords(line string) []string {
	var parts []string
	var buf strings.Builder
	bufWidth := 0
	for _, word := range splitKeep(line, " ") {
		w := c.Measure(word)
		if bufWidth > 0 && bufWidth+w > c.Limit {
			parts = append(parts, buf.String())
			buf.Reset()
			bufWidth = 0
		}
		if w > c.Limit {
			for _, r := range word {
				rw := c.Measure(string(r))
				if bufWidth+rw > c.Limit {
					parts = append(parts, buf.String())
					buf.Reset()
					bufWidth = 0
				}
				buf.WriteRune(r)
				bufWidth += rw
			}
			continue
		}
		buf.WriteString(word)
		bufWidth += w
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}

// splitFence breaks an oversized fenced block into multiple self-closing
// fences, splitting only at line boundaries.
func (c *Chunker) splitFence(seg segment) []string {
	whole := seg.text
	if c.Measure(whole) <= c.Limit {
		return []string{whole}
	}

	open := "```" + seg.fenceInfo + "\n"
	closing := "\n```\n"
	overhead := c.Measure(open) + c.Measure(closing)

	var pieces []string
	var body strings.Builder
	bodyWidth := 0
	for _, line := range strings.Split(seg.body, "\n") {
		w := c.Measure(line) + 1
		if bodyWidth > 0 && overhead+bodyWidth+w > c.Limit {
			pieces = append(pieces, open+strings.TrimRight(body.String(), "\n")+closing)
			body.Reset()
			bodyWidth = 0
		}
		body.WriteString(line)
		body.WriteString("\n")
		bodyWidth += w
	}
	if body.Len() > 0 {
		pieces = append(pieces, open+strings.TrimRight(body.String(), "\n")+closing)
	}
	return pieces
}

// segment is a run of text that is either inside one fenced code block
// (fenced, with its info string and inner body) or plain prose.
type segment struct {
	text      string // full text including fence markers when fenced
	fenced    bool
	fenceInfo string
	body      string // inner body, fenced only
}

// parseSegments splits text into alternating prose and fenced-code
// segments. An unterminated fence runs to the end of the text.
func parseSegments(text string) []segment {
	var segs []segment
	lines := strings.Split(text, "\n")
	var cur strings.Builder
	var body strings.Builder
	inFence := false
	fenceInfo := ""

	flushProse := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{text: cur.String()})
			cur.Reset()
		}
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				flushProse()
				inFence = true
				fenceInfo = strings.TrimPrefix(trimmed, "```")
				body.Reset()
				continue
			}
			segs = append(segs, segment{
				text:      "```" + fenceInfo + "\n" + strings.TrimRight(body.String(), "\n") + "\n```\n",
				fenced:    true,
				fenceInfo: fenceInfo,
				body:      strings.TrimRight(body.String(), "\n"),
			})
			inFence = false
			continue
		}

		if inFence {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		cur.WriteString(line)
		if i < len(lines)-1 {
			cur.WriteString("\n")
		}
	}

	if inFence {
		segs = append(segs, segment{
			text:      "```" + fenceInfo + "\n" + strings.TrimRight(body.String(), "\n") + "\n```\n",
			fenced:    true,
			fenceInfo: fenceInfo,
			body:      strings.TrimRight(body.String(), "\n"),
		})
	} else {
		flushProse()
	}
	return segs
}

// splitKeep splits s on sep, keeping the separator attached to the
// preceding piece so rejoining chunks loses nothing.
func splitKeep(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			out = append(out, p+sep)
		} else if p != "" {
			out = append(out, p)
		}
	}
	return out
}
