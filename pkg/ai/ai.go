package ai

import (
	"context"

	"github.com/openai/openai-go"
)

// Completion is the reasoning-service boundary. Consumers depend on this
// interface so tests can substitute a canned implementation.
type Completion interface {
	Completions(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, model string) (openai.ChatCompletionMessage, error)
}
