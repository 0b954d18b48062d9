package parser

import "encoding/json"

// ToolResultObservation is a tool_result block recovered from an inbound
// request body, before correlation against a pending call.
type ToolResultObservation struct {
	ToolID    string
	OutputRaw string
	IsError   bool
}

// ExtractToolResults walks a request body's messages array for tool_result
// blocks (Anthropic: content blocks with type "tool_result"; OpenAI: entire
// messages with role "tool"). There is no teacher analog — the guardrail
// proxy never looked at results, only at calls — so this follows the same
// "walk messages, decode the shape the provider actually uses" approach as
// ExtractRequestMeta.
func ExtractToolResults(body []byte, format Format) []ToolResultObservation {
	switch format {
	case FormatAnthropic:
		return extractAnthropicToolResults(body)
	case FormatOpenAI:
		return extractOpenAIToolResults(body)
	default:
		return nil
	}
}

func extractAnthropicToolResults(body []byte) []ToolResultObservation {
	var raw struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	var out []ToolResultObservation
	for _, msg := range raw.Messages {
		if msg.Role != "user" {
			continue
		}
		var blocks []struct {
			Type      string          `json:"type"`
			ToolUseID string          `json:"tool_use_id"`
			Content   json.RawMessage `json:"content"`
			IsError   bool            `json:"is_error"`
		}
		if err := json.Unmarshal(msg.Content, &blocks); err != nil {
			continue
		}
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			out = append(out, ToolResultObservation{
				ToolID:    b.ToolUseID,
				OutputRaw: flattenContentBlocks(b.Content),
				IsError:   b.IsError,
			})
		}
	}
	return out
}

func extractOpenAIToolResults(body []byte) []ToolResultObservation {
	var raw struct {
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
			Content    string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}

	var out []ToolResultObservation
	for _, msg := range raw.Messages {
		if msg.Role != "tool" {
			continue
		}
		out = append(out, ToolResultObservation{
			ToolID:    msg.ToolCallID,
			OutputRaw: msg.Content,
		})
	}
	return out
}
