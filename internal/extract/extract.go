// Package extract pulls output text out of backend response payloads.
package extract

import (
	"strings"

	"inference-gateway/internal/shared"
)

// The backend's streaming protocol has a small closed set of chunk shapes:
// the legacy completion shape (plain string) and the content shape (plain
// string or an ordered list of typed parts). Shapes are tried in order; a
// chunk matching none of them yields "" so schema drift in a single chunk
// never aborts a stream.
type shape struct {
	name    string
	extract func(map[string]any) (string, bool)
}

var shapes = []shape{
	{name: "completion", extract: completionShape},
	{name: "content", extract: contentShape},
}

// ChunkText returns the text fragment carried by one raw stream chunk,
// possibly empty.
func ChunkText(chunk map[string]any) string {
	for _, s := range shapes {
		if text, ok := s.extract(chunk); ok {
			return text
		}
	}
	return ""
}

// ResponseText applies the content aggregation rule to a full synchronous
// response body.
func ResponseText(body map[string]any) string {
	text, _ := contentShape(body)
	return text
}

// MessagesText assembles the caller-supplied input text by walking
// messages[*].content with the same string-or-typed-parts rule.
func MessagesText(payload map[string]any) string {
	msgs, ok := payload["messages"].([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			sb.WriteString(content)
		case []any:
			sb.WriteString(partsText(content))
		}
	}
	return sb.String()
}

func completionShape(chunk map[string]any) (string, bool) {
	v, ok := chunk["completion"].(string)
	return v, ok
}

func contentShape(chunk map[string]any) (string, bool) {
	switch v := chunk["content"].(type) {
	case string:
		return v, true
	case []any:
		return partsText(v), true
	}
	return "", false
}

func partsText(parts []any) string {
	var sb strings.Builder
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if shared.GetString(part, "type") != "text" {
			continue
		}
		sb.WriteString(shared.GetString(part, "text"))
	}
	return sb.String()
}
