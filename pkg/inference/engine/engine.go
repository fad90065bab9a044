package engine

import (
	"context"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Message is one role-tagged turn of a request.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Request is everything a provider needs to continue a conversation. The
// sampling settings are taken from the provider's own configuration.
type Request struct {
	SystemPrompt string    `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Messages     []Message `json:"messages" yaml:"messages"`
}

// Stream yields the fragments of a single completion in order.
//
// Recv returns io.EOF once the completion is done. Any other error means the
// stream broke off; fragments received before remain valid.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// StreamingProvider opens streaming completions. An error from ChatStream
// means the request was not accepted and no fragment will be produced.
type StreamingProvider interface {
	ChatStream(ctx context.Context, request Request) (Stream, error)
}
