package parser

import "encoding/json"

// RequestMeta holds the fields pulled from a request body that the parser
// and pipeline need downstream — the body itself is forwarded to upstream
// unchanged, this is a read-only side extraction.
type RequestMeta struct {
	Model  string
	Stream bool
	Tools  []string
	Prompt string // latest user-role message content, flattened to plain text
}

// anthropicMessage and openaiMessage model just enough of each provider's
// messages array to walk it for the latest user turn and tool_result
// blocks. Content can be either a plain string or an array of content
// blocks; RawMessage defers that decision to ExtractRequestMeta /
// ExtractToolResults.
type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type openaiMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ExtractRequestMeta parses model/stream/tools/prompt out of a request body.
// Generalizes the teacher's extractor.ExtractRequestMeta (which stopped at
// model/tools/stream) to also recover the latest user prompt, needed for
// the UserPrompt event.
func ExtractRequestMeta(body []byte, format Format) RequestMeta {
	var meta RequestMeta

	var raw struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
		Tools  []struct {
			Name     string `json:"name"`
			Function *struct {
				Name string `json:"name"`
			} `json:"function,omitempty"`
		} `json:"tools"`
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return meta
	}

	meta.Model = raw.Model
	meta.Stream = raw.Stream
	for _, t := range raw.Tools {
		if t.Name != "" {
			meta.Tools = append(meta.Tools, t.Name)
		} else if t.Function != nil && t.Function.Name != "" {
			meta.Tools = append(meta.Tools, t.Function.Name)
		}
	}

	switch format {
	case FormatAnthropic:
		meta.Prompt = latestAnthropicUserText(raw.Messages)
	case FormatOpenAI:
		meta.Prompt = latestOpenAIUserText(raw.Messages)
	}

	return meta
}

func latestAnthropicUserText(raw json.RawMessage) string {
	var messages []anthropicMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if text := flattenContentBlocks(messages[i].Content); text != "" {
			return text
		}
	}
	return ""
}

func latestOpenAIUserText(raw json.RawMessage) string {
	var messages []openaiMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if text := flattenContentBlocks(messages[i].Content); text != "" {
			return text
		}
	}
	return ""
}

// flattenContentBlocks handles both message.content shapes providers use: a
// bare string, or an array of typed content blocks ({"type":"text",...}).
// Non-text blocks (images, tool_result, tool_use) are skipped — only
// observable text is ever stored.
func flattenContentBlocks(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}

	out := ""
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			if out != "" {
				out += "\n"
			}
			out += b.Text
		}
	}
	return out
}
