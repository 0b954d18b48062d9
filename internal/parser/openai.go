package parser

import (
	"encoding/json"

	"github.com/aspy-proxy/aspy/internal/event"
)

type openaiToolCallAcc struct {
	id        string
	name      string
	arguments string
}

// openaiState accumulates one OpenAI Chat Completions streamed response.
type openaiState struct {
	model     string
	assistant string
	toolCalls map[int]*openaiToolCallAcc
	order     []int
}

func newOpenAIState() *openaiState {
	return &openaiState{toolCalls: make(map[int]*openaiToolCallAcc)}
}

// handle interprets one "data: {...}" chunk (raw.Event is always empty for
// OpenAI) and returns zero or more higher-level events. The terminal
// "data: [DONE]" frame is handled by the caller via rawSSEEvent.Data.
func (s *openaiState) handle(requestID string, raw rawSSEEvent) []event.Event {
	if raw.Data == "[DONE]" {
		return s.flush()
	}

	var chunk struct {
		Model   string `json:"model"`
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Index    int    `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	var out []event.Event

	if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
		return out
	}
	if chunk.Model != "" {
		s.model = chunk.Model
	}

	for _, choice := range chunk.Choices {
		s.assistant += choice.Delta.Content

		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := s.toolCalls[tc.Index]
			if !ok {
				acc = &openaiToolCallAcc{}
				s.toolCalls[tc.Index] = acc
				s.order = append(s.order, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.arguments += tc.Function.Arguments
		}
	}

	if chunk.Usage != nil && (chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0) {
		out = append(out, event.Event{Kind: event.KindApiUsage, Payload: event.ApiUsage{
			RequestID:    requestID,
			Model:        s.model,
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}

	return out
}

// flush emits the assembled AssistantResponse and any completed tool calls.
// Called on stream termination since OpenAI's chunked deltas don't carry a
// block-level stop event the way Anthropic's content_block_stop does.
func (s *openaiState) flush() []event.Event {
	var out []event.Event

	if s.assistant != "" {
		out = append(out, event.Event{Kind: event.KindAssistantResponse, Payload: event.AssistantResponse{
			Content: s.assistant,
		}})
	}

	for turn, idx := range s.order {
		acc := s.toolCalls[idx]
		args, ok := repairJSON(acc.arguments)
		tc := event.ToolCall{
			ToolID:    acc.id,
			ToolName:  acc.name,
			TurnIndex: turn,
		}
		if ok {
			tc.Input = args
		} else {
			tc.ParseError = "unparseable tool input after repair"
		}
		out = append(out, event.Event{Kind: event.KindToolCall, Payload: tc})
	}

	return out
}
