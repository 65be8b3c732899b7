package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/invopop/jsonschema"
	"github.com/pkoukk/tiktoken-go"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
)

type extractEntity struct {
	Label string `json:"label" jsonschema_description:"Entity label exactly as written in the text"`
	Type  string `json:"type" jsonschema_description:"One of the provided entity types, or a short descriptive type"`
}

type extractRelationship struct {
	Source string `json:"source" jsonschema_description:"Label of the source entity, as identified in the entity list"`
	Target string `json:"target" jsonschema_description:"Label of the target entity, as identified in the entity list"`
	Type   string `json:"type" jsonschema_description:"Short relationship type tag"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the text chunk"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text chunk"`
}

// chunkExtraction is the raw result of one chunk, endpoints still
// referenced by label.
type chunkExtraction struct {
	documentID    string
	entities      []extractEntity
	relationships []extractRelationship
}

func renderExtractPrompt(prompts common.PromptConfig) string {
	template := prompts.ExtractionTemplate
	if template == "" {
		template = ai.ExtractPrompt
	}

	types := prompts.EntityTypes
	if len(types) == 0 {
		types = ai.DefaultEntityTypes
	}
	rendered := strings.ReplaceAll(template, common.PlaceholderEntityTypes, strings.Join(types, ", "))

	examples := renderExtractionExamples(prompts.ExtractionExamples)
	rendered = strings.ReplaceAll(rendered, common.PlaceholderExamples, examples)

	return strings.TrimSpace(rendered)
}

func renderExtractionExamples(examples []common.ExtractionExample) string {
	if len(examples) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Examples\n")
	for i, ex := range examples {
		out := extractResponse{
			Entities:      make([]extractEntity, 0, len(ex.Entities)),
			Relationships: make([]extractRelationship, 0, len(ex.Relationships)),
		}
		for _, e := range ex.Entities {
			out.Entities = append(out.Entities, extractEntity{Label: e.Label, Type: e.Type})
		}
		for _, r := range ex.Relationships {
			out.Relationships = append(out.Relationships, extractRelationship{Source: r.Source, Target: r.Target, Type: r.Type})
		}
		encoded, err := json.Marshal(out)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\nExample %d input:\n%s\n\nExample %d output:\n%s\n", i+1, ex.Text, i+1, string(encoded))
	}
	return b.String()
}

// truncateToBudget cuts text down to at most maxTokens tokens under the
// configured encoding. Oversized chunks lose their tail instead of
// failing the build.
func truncateToBudget(text, encoder string, maxTokens int) (string, error) {
	// A token spans at least one byte, so short text cannot exceed the
	// budget and skips the tokenizer entirely.
	if len(text) <= maxTokens {
		return text, nil
	}
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		return "", err
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, nil
	}
	return enc.Decode(tokens[:maxTokens]), nil
}

func (b *Builder) extractFromChunk(
	ctx context.Context,
	chunk common.Chunk,
	prompts common.PromptConfig,
	client ai.Client,
) (*chunkExtraction, error) {
	text, err := truncateToBudget(chunk.Text, b.tokenEncoder, b.maxChunkTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize chunk: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return &chunkExtraction{documentID: chunk.DocumentID}, nil
	}

	var res extractResponse
	err = client.GenerateCompletionWithFormat(
		ctx,
		"extract_entities_and_relationships",
		"Extract entities and relationships from a provided text chunk.",
		text,
		&res,
		ai.WithSystemPrompts(renderExtractPrompt(prompts)),
	)
	if err != nil {
		return nil, err
	}

	// Entities without a usable label are dropped here so downstream
	// resolution never sees them.
	entities := make([]extractEntity, 0, len(res.Entities))
	seen := make(map[string]bool, len(res.Entities))
	for _, e := range res.Entities {
		e.Label = ai.NormalizeLabel(e.Label)
		e.Type = ai.NormalizeLabel(e.Type)
		if e.Label == "" {
			continue
		}
		key := strings.ToLower(e.Label) + "|" + strings.ToLower(e.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, e)
	}

	relationships := make([]extractRelationship, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		r.Source = ai.NormalizeLabel(r.Source)
		r.Target = ai.NormalizeLabel(r.Target)
		r.Type = ai.NormalizeLabel(r.Type)
		if r.Source == "" || r.Target == "" {
			continue
		}
		relationships = append(relationships, r)
	}

	return &chunkExtraction{
		documentID:    chunk.DocumentID,
		entities:      entities,
		relationships: relationships,
	}, nil
}
