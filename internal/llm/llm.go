// Package llm defines the completion-service contract used by the agent loop, plus concrete clients for the
// Anthropic Messages API and Gemini.
package llm

import (
	"context"
	"maps"
	"strings"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Block is one piece of message content.
//
// Text blocks use Text. Tool-use blocks (assistant) use ID, Name and Input. Tool-result blocks (user) use ToolUseID,
// Name, Content and IsError.
type Block struct {
	Type      BlockType      `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

// TextBlock returns a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// Message is one entry of a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Tool is a capability advertised to the completion service.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one completion call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []Tool
	MaxTokens int
}

// Usage is the token cost of one completion call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StopReason is why the completion service stopped generating.
type StopReason string

const (
	StopToolUse   StopReason = "tool_use"
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopRefusal   StopReason = "refusal"
	StopPauseTurn StopReason = "pause_turn"
)

// Response is the result of one completion call.
type Response struct {
	StopReason StopReason
	Content    []Block
	Usage      Usage
}

// ToolCalls returns the tool-use blocks of r in order.
func (r *Response) ToolCalls() []Block {
	var calls []Block
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// Text returns the concatenated text blocks of r, trimmed.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, b := range r.Content {
		if b.Type != BlockText {
			continue
		}
		if sb.Len() > 0 && b.Text != "" {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Client is a completion service. Implementations must be safe for concurrent independent calls. A Client may
// return a non-nil Response alongside an error when the service billed usage for a reply it could not use; only
// Response.Usage is meaningful then.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CloneMessages returns a copy of msgs that shares no slices or maps with the original.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: CloneBlocks(m.Content)}
	}
	return out
}

// CloneBlocks returns a copy of blocks.
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	for i, b := range blocks {
		b.Input = maps.Clone(b.Input)
		out[i] = b
	}
	return out
}
