package agent

import "github.com/codalotl/driveqa/internal/llm"

// Conversation is an append-only message log. Messages are copied on the way in and on the way out, so neither the
// caller nor the completion service can alter entries already recorded.
type Conversation struct {
	msgs []llm.Message
}

// NewConversation starts a conversation with msgs.
func NewConversation(msgs ...llm.Message) *Conversation {
	c := &Conversation{}
	for _, m := range msgs {
		c.Append(m)
	}
	return c
}

// Append adds m to the end of the log.
func (c *Conversation) Append(m llm.Message) {
	c.msgs = append(c.msgs, llm.Message{Role: m.Role, Content: llm.CloneBlocks(m.Content)})
}

// Snapshot returns a copy of the log suitable for a single request.
func (c *Conversation) Snapshot() []llm.Message {
	return llm.CloneMessages(c.msgs)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.msgs)
}
