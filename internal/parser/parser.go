package parser

import (
	"time"

	"github.com/google/uuid"

	"github.com/aspy-proxy/aspy/internal/event"
)

// Format identifies which provider SSE shape a stream uses. Determined by
// the proxy from the route's provider binding, not guessed from content.
type Format int

const (
	FormatAnthropic Format = iota
	FormatOpenAI
	FormatUnknown
)

// StreamParser incrementally decodes one streamed response body into
// event.Event values as bytes become available. It never buffers the whole
// body — Feed is meant to be called once per chunk the proxy's tee already
// forwarded to the client, so parsing runs strictly behind (never ahead of,
// never blocking) the bytes the client has already received.
type StreamParser struct {
	requestID string
	format    Format
	scanner   lineScanner
	assembler sseAssembler
	anthropic *anthropicState
	openai    *openaiState
}

// NewStreamParser creates a parser for one request/response exchange.
func NewStreamParser(requestID string, format Format) *StreamParser {
	p := &StreamParser{requestID: requestID, format: format}
	switch format {
	case FormatAnthropic:
		p.anthropic = newAnthropicState()
	case FormatOpenAI:
		p.openai = newOpenAIState()
	}
	return p
}

// Feed processes a chunk of raw response bytes and returns any events that
// became decodable as a result. Safe to call with arbitrarily small slices,
// including single bytes — a frame that straddles two Feed calls is held in
// the scanner/assembler state until it completes.
func (p *StreamParser) Feed(chunk []byte) []event.Event {
	if p.format == FormatUnknown {
		return nil
	}

	lines := p.scanner.feed(chunk)
	if len(lines) == 0 {
		return nil
	}
	frames := p.assembler.feedLines(lines)

	var out []event.Event
	for _, f := range frames {
		switch p.format {
		case FormatAnthropic:
			out = append(out, p.anthropic.handle(p.requestID, f)...)
		case FormatOpenAI:
			out = append(out, p.openai.handle(p.requestID, f)...)
		}
	}
	return out
}

// NextBlockIndex reports the next free Anthropic content-block index, for
// the proxy's augmentation hook to append a synthesized block without
// colliding with an index the upstream is still using. Zero for non-
// Anthropic formats, where no such indexing scheme exists.
func (p *StreamParser) NextBlockIndex() int {
	if p.anthropic == nil {
		return 0
	}
	return len(p.anthropic.blocks)
}

// Done reports whether a terminal frame (message_stop / [DONE]) has been
// observed. The proxy uses this to know a trailing flush isn't needed.
func (p *StreamParser) Done() bool {
	return p.assembler.done
}

// Close flushes any state that only resolves at stream end (OpenAI's
// tool-call deltas have no per-call terminator, unlike Anthropic's
// content_block_stop) and should be called once the upstream body reaches
// EOF even if no explicit terminal frame was seen — e.g. a connection drop
// mid-stream.
func (p *StreamParser) Close() []event.Event {
	if p.format == FormatOpenAI && !p.assembler.done {
		return p.openai.flush()
	}
	return nil
}

// AssignFallbackID returns a stable id for a tool call the upstream left
// unidentified, rather than leaving ToolID empty and unable to correlate
// against a later tool_result.
func AssignFallbackID() string {
	return "fallback_" + uuid.NewString()
}

// Now is overridable in tests; production code always uses time.Now.
var Now = time.Now
