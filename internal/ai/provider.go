package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a single-operation text completion service. Structured replies
// (JSON) are the caller's concern; providers only move text.
type Provider interface {
	Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}
