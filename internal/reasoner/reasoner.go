// Package reasoner runs conversation turns against a chat-completions
// style language model API.
package reasoner

import (
	"context"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/tools"
)

// Roles in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of conversation history.
type Message struct {
	Role    string
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []model.ToolCall
	// ToolCallID is set on tool messages and names the call being answered.
	ToolCallID string
}

// Response is the model's reply to one reasoning round: either text to
// speak, tool calls to run, or both.
type Response struct {
	Text      string
	ToolCalls []model.ToolCall
}

// Reasoner produces the next assistant step for a conversation.
type Reasoner interface {
	Converse(ctx context.Context, history []Message, defs []tools.Definition) (*Response, error)
}
