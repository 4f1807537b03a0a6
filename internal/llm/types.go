// Package llm provides provider-agnostic LLM dispatch: a normalized
// message/tool/response model, per-provider adapters registered in a map,
// and typed failure semantics.
package llm

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Content item kinds.
const (
	ContentText       = "text"
	ContentImage      = "image"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
)

// ImageSource carries image data as base64 or by URL.
type ImageSource struct {
	Type      string `json:"type"` // base64, url
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentItem is one typed piece of message content.
type ContentItem struct {
	Type string `json:"type"`

	// Text content.
	Text string `json:"text,omitempty"`

	// Image content.
	Image *ImageSource `json:"image,omitempty"`

	// Tool use (assistant requesting a call).
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// Tool result (caller answering a tool_use; the id round-trips).
	ToolUseID string `json:"toolUseId,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"isError,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentItem `json:"content"`
}

// TextMessage builds a single-item text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentItem{{Type: ContentText, Text: text}}}
}

// Text concatenates the message's text items.
func (m Message) Text() string {
	out := ""
	for _, item := range m.Content {
		if item.Type == ContentText {
			out += item.Text
		}
	}
	return out
}

// Schema is a JSON Schema-like tree describing tool input. Leaf types are
// object, array, string, number, integer, and boolean, plus enum.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []interface{}      `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ToMap renders the schema as a provider-ready JSON object.
func (s *Schema) ToMap() map[string]interface{} {
	if s == nil {
		return map[string]interface{}{"type": "object"}
	}
	out := map[string]interface{}{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.ToMap()
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = s.Items.ToMap()
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// SchemaFromMap parses a provider schema object back into the core tree.
func SchemaFromMap(raw map[string]interface{}) *Schema {
	if raw == nil {
		return nil
	}
	s := &Schema{}
	if t, ok := raw["type"].(string); ok {
		s.Type = t
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if props, ok := raw["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = SchemaFromMap(propMap)
			}
		}
	}
	if items, ok := raw["items"].(map[string]interface{}); ok {
		s.Items = SchemaFromMap(items)
	}
	if enum, ok := raw["enum"].([]interface{}); ok {
		s.Enum = enum
	}
	// Required arrives as []interface{} after a JSON decode, but a map
	// built by ToMap carries the []string directly.
	switch required := raw["required"].(type) {
	case []interface{}:
		for _, field := range required {
			if name, ok := field.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	case []string:
		s.Required = append(s.Required, required...)
	}
	return s
}

// Tool declares a callable tool offered to the model.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema *Schema `json:"inputSchema,omitempty"`
}

// Options tune one dispatch call. Zero values fall back to the provider
// configuration.
type Options struct {
	Model       string        `json:"model,omitempty"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"-"`
}

// Usage is the normalized token accounting of one response.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// Response is the normalized provider answer.
type Response struct {
	ID           string        `json:"id"`
	Role         string        `json:"role"`
	Content      []ContentItem `json:"content"`
	Model        string        `json:"model"`
	StopReason   string        `json:"stopReason,omitempty"`
	StopSequence string        `json:"stopSequence,omitempty"`
	Usage        Usage         `json:"usage"`
}

// ToolUses extracts the tool_use items from a response.
func (r *Response) ToolUses() []ContentItem {
	out := make([]ContentItem, 0)
	for _, item := range r.Content {
		if item.Type == ContentToolUse {
			out = append(out, item)
		}
	}
	return out
}

// Text concatenates the response's text items.
func (r *Response) Text() string {
	out := ""
	for _, item := range r.Content {
		if item.Type == ContentText {
			out += item.Text
		}
	}
	return out
}
