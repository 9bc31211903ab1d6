package orchestrator

import "context"

// Generation is one completed backend call.
type Generation struct {
	Content   string
	Citations []string
	TokensIn  int
	TokensOut int
}

// Generator is the paid text-generation backend. Implementations route the
// query to the model behind the named tier and report actual token usage.
type Generator interface {
	Generate(ctx context.Context, query, category, tierName string) (*Generation, error)
}
