// Package llm defines the external sentiment/topic classifier
// collaborator: a single chat-style completion with a system message
// (taxonomy + instructions) and a user message (numbered reviews),
// forced low temperature and JSON response.
package llm

import "context"

// ClassifyRequest is one batch's classification call.
type ClassifyRequest struct {
	SystemPrompt string
	UserPrompt   string
}

// Client is the collaborator internal/label depends on.
type Client interface {
	// Classify sends one request and returns the raw JSON text the model
	// produced (expected to parse into an array of label objects); the
	// caller is responsible for parsing and sanitizing it, since a
	// malformed response is a normal, handled case, not a Client-level
	// error.
	Classify(ctx context.Context, req ClassifyRequest) (string, error)
	ModelVersion() string
}
