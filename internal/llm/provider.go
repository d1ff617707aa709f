// Package llm abstracts the generation and embedding backends. Both are
// external collaborators reached over OpenAI-compatible HTTP APIs, which also
// covers Ollama's /v1 surface.
package llm

import "context"

// Role of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// ChatRequest is a streaming generation request.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenFunc receives generated tokens as they are produced. Returning an
// error aborts the stream.
type TokenFunc func(token string) error

// Provider is the interface generation/embedding backends implement.
type Provider interface {
	// ChatStream generates a completion, invoking fn per token.
	ChatStream(ctx context.Context, req ChatRequest, fn TokenFunc) error
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier.
	Name() string
}
