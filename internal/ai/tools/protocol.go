package tools

import "strings"

// Tool describes an available tool
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema describes the expected input for a tool
type InputSchema struct {
	Type       string                    `json:"type"` // Always "object"
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes a property in the input schema
type PropertySchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// JSONSchema renders the schema as the plain map providers embed in their
// request bodies.
func (s InputSchema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}
	out := map[string]interface{}{
		"type":       s.Type,
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// CallToolResult is the result of a tool call
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text content of the result.
func (r CallToolResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Content represents content in a tool result
type Content struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

// NewTextContent creates a text content object
func NewTextContent(text string) Content {
	return Content{
		Type: "text",
		Text: text,
	}
}

// NewErrorResult creates an error tool result
func NewErrorResult(err error) CallToolResult {
	return CallToolResult{
		Content: []Content{NewTextContent(err.Error())},
		IsError: true,
	}
}

// NewTextResult creates a successful text tool result
func NewTextResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{NewTextContent(text)},
		IsError: false,
	}
}

