// Package graph turns pre-chunked documents into knowledge graph
// batches: LLM extraction per chunk, entity resolution against the
// already-committed graph, and incremental merge through the store.
package graph

// Builder drives graph construction. It manages token budgets for
// chunk prompts, extraction parallelism, and retry behavior for AI
// calls.
//
// A Builder should be created using NewBuilder.
type Builder struct {
	tokenEncoder   string
	maxChunkTokens int
	parallelChunks int
	maxRetries     int
	resolveWithAI  bool
}

// NewBuilderParams defines the configuration for creating a Builder.
//
// TokenEncoder names the tiktoken encoding used to budget chunk text.
// MaxChunkTokens caps how many tokens of a chunk are sent to the
// extraction model. ParallelChunks controls how many chunks are
// extracted concurrently. ResolveWithAI enables the LLM resolution
// pass on top of lexical matching.
type NewBuilderParams struct {
	TokenEncoder   string
	MaxChunkTokens int
	ParallelChunks int
	MaxRetries     int
	ResolveWithAI  bool
}

// NewBuilder creates a Builder configured with the provided parameters.
func NewBuilder(params NewBuilderParams) (*Builder, error) {
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	encoder := params.TokenEncoder
	if encoder == "" {
		encoder = "o200k_base"
	}
	maxChunkTokens := params.MaxChunkTokens
	if maxChunkTokens <= 0 {
		maxChunkTokens = 4000
	}
	parallelChunks := params.ParallelChunks
	if parallelChunks <= 0 {
		parallelChunks = 4
	}

	b := &Builder{
		tokenEncoder:   encoder,
		maxChunkTokens: maxChunkTokens,
		parallelChunks: parallelChunks,
		maxRetries:     maxRetries,
		resolveWithAI:  params.ResolveWithAI,
	}
	return b, nil
}
