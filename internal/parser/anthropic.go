package parser

import (
	"encoding/json"
	"time"

	"github.com/aspy-proxy/aspy/internal/event"
)

// anthropicBlock tracks one element of the response content array while its
// deltas are still arriving.
type anthropicBlock struct {
	kind         string // "text" | "thinking" | "tool_use"
	toolID       string
	toolName     string
	text         string
	partialJSON  string
	signature    string
}

// anthropicState is the per-stream accumulator for one Anthropic Messages
// API SSE response, mirroring the fields the teacher's buffered_stream.go
// reconstructAnthropic gathered from a complete body, but built up here one
// delta at a time.
type anthropicState struct {
	model      string
	blocks     map[int]*anthropicBlock
	assistant  string // concatenation of completed text blocks, in order
	startedAt  time.Time
}

func newAnthropicState() *anthropicState {
	return &anthropicState{blocks: make(map[int]*anthropicBlock)}
}

// handle interprets one decoded SSE frame and returns zero or more
// higher-level events. requestID ties every emitted event back to the HTTP
// exchange it belongs to.
func (s *anthropicState) handle(requestID string, raw rawSSEEvent) []event.Event {
	var out []event.Event

	switch raw.Event {
	case "message_start":
		var frame struct {
			Message struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens              int `json:"input_tokens"`
					CacheReadInputTokens     int `json:"cache_read_input_tokens"`
					CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &frame); err == nil {
			s.model = frame.Message.Model
			if frame.Message.Usage.InputTokens > 0 {
				out = append(out, event.Event{Kind: event.KindApiUsage, Payload: event.ApiUsage{
					RequestID:     requestID,
					Model:         s.model,
					InputTokens:   frame.Message.Usage.InputTokens,
					CacheRead:     frame.Message.Usage.CacheReadInputTokens,
					CacheCreation: frame.Message.Usage.CacheCreationInputTokens,
				}})
			}
		}

	case "content_block_start":
		var frame struct {
			Index        int `json:"index"`
			ContentBlock struct {
				Type  string          `json:"type"`
				ID    string          `json:"id"`
				Name  string          `json:"name"`
				Input json.RawMessage `json:"input"`
			} `json:"content_block"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &frame); err == nil {
			b := &anthropicBlock{
				kind:     frame.ContentBlock.Type,
				toolID:   frame.ContentBlock.ID,
				toolName: frame.ContentBlock.Name,
			}
			s.blocks[frame.Index] = b
			if b.kind == "thinking" {
				out = append(out, event.Event{Kind: event.KindThinkingStarted, Payload: event.ThinkingStarted{
					BlockID: b.toolID,
				}})
			}
		}

	case "content_block_delta":
		var frame struct {
			Index int `json:"index"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
				Thinking    string `json:"thinking"`
				Signature   string `json:"signature"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &frame); err == nil {
			b, ok := s.blocks[frame.Index]
			if ok {
				switch frame.Delta.Type {
				case "text_delta":
					b.text += frame.Delta.Text
				case "input_json_delta":
					b.partialJSON += frame.Delta.PartialJSON
				case "thinking_delta":
					b.text += frame.Delta.Thinking
				case "signature_delta":
					b.signature += frame.Delta.Signature
				}
			}
		}

	case "content_block_stop":
		var frame struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &frame); err == nil {
			b, ok := s.blocks[frame.Index]
			if ok {
				switch b.kind {
				case "text":
					s.assistant += b.text
				case "thinking":
					out = append(out, event.Event{Kind: event.KindThinking, Payload: event.Thinking{
						BlockID:       b.toolID,
						Content:       b.text,
						TokenEstimate: estimateTokens(b.text),
					}})
				case "tool_use":
					args, ok := repairJSON(b.partialJSON)
					tc := event.ToolCall{
						ToolID:    b.toolID,
						ToolName:  b.toolName,
						TurnIndex: frame.Index,
					}
					if ok {
						tc.Input = args
					} else {
						tc.ParseError = "unparseable tool input after repair"
					}
					out = append(out, event.Event{Kind: event.KindToolCall, Payload: tc})
				}
			}
		}

	case "message_delta":
		var frame struct {
			Usage struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(raw.Data), &frame); err == nil && frame.Usage.OutputTokens > 0 {
			out = append(out, event.Event{Kind: event.KindApiUsage, Payload: event.ApiUsage{
				RequestID:    requestID,
				Model:        s.model,
				OutputTokens: frame.Usage.OutputTokens,
			}})
		}

	case "message_stop":
		if s.assistant != "" {
			out = append(out, event.Event{Kind: event.KindAssistantResponse, Payload: event.AssistantResponse{
				Content: s.assistant,
			}})
		}
	}

	return out
}

// estimateTokens gives a rough token count for thinking-block size
// accounting, without pulling in a real tokenizer — matching the spec's
// "estimate" framing rather than an exact count.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
