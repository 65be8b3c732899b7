package common

import (
	"fmt"
	"strings"
)

// Placeholders recognized in caller-supplied prompt templates.
const (
	PlaceholderEntityTypes = "{{entity_types}}"
	PlaceholderExamples    = "{{examples}}"
	PlaceholderEntities    = "{{entities}}"
)

// ExtractionExample is a worked example embedded into the extraction
// prompt: a short text alongside the entities and relationships a
// model is expected to produce for it.
type ExtractionExample struct {
	Text          string                `json:"text" validate:"required"`
	Entities      []ExampleEntity       `json:"entities" validate:"required,dive"`
	Relationships []ExampleRelationship `json:"relationships,omitempty" validate:"dive"`
}

type ExampleEntity struct {
	Label string `json:"label" validate:"required"`
	Type  string `json:"type" validate:"required"`
}

type ExampleRelationship struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
	Type   string `json:"type" validate:"required"`
}

// ResolutionExample declares an explicit equivalence class for entity
// resolution: every variant resolves to the canonical label. Explicit
// classes always take precedence over model-inferred equivalence.
type ResolutionExample struct {
	Canonical string   `json:"canonical" validate:"required"`
	Variants  []string `json:"variants" validate:"required,min=1"`
}

// PromptConfig carries caller overrides for the extraction and
// resolution prompts. The zero value is valid and selects the built-in
// defaults. It is pure data; the only behavior is validation.
type PromptConfig struct {
	ExtractionTemplate string              `json:"extraction_template,omitempty"`
	ExtractionExamples []ExtractionExample `json:"extraction_examples,omitempty"`
	ResolutionTemplate string              `json:"resolution_template,omitempty"`
	ResolutionExamples []ResolutionExample `json:"resolution_examples,omitempty"`
	EntityTypes        []string            `json:"entity_types,omitempty"`
}

// Validate checks the override for structural problems before it is
// handed to the extractor or resolver. An empty config passes.
func (p PromptConfig) Validate() error {
	if p.ExtractionTemplate != "" && !strings.Contains(p.ExtractionTemplate, PlaceholderEntityTypes) {
		return fmt.Errorf("%w: extraction template missing %s placeholder", ErrValidation, PlaceholderEntityTypes)
	}
	if p.ResolutionTemplate != "" && !strings.Contains(p.ResolutionTemplate, PlaceholderEntities) {
		return fmt.Errorf("%w: resolution template missing %s placeholder", ErrValidation, PlaceholderEntities)
	}
	for i, ex := range p.ExtractionExamples {
		if strings.TrimSpace(ex.Text) == "" {
			return fmt.Errorf("%w: extraction example %d has empty text", ErrValidation, i)
		}
		if len(ex.Entities) == 0 {
			return fmt.Errorf("%w: extraction example %d has no entities", ErrValidation, i)
		}
		for _, e := range ex.Entities {
			if strings.TrimSpace(e.Label) == "" || strings.TrimSpace(e.Type) == "" {
				return fmt.Errorf("%w: extraction example %d has entity with empty label or type", ErrValidation, i)
			}
		}
	}
	for i, ex := range p.ResolutionExamples {
		if strings.TrimSpace(ex.Canonical) == "" {
			return fmt.Errorf("%w: resolution example %d has empty canonical label", ErrValidation, i)
		}
		if len(ex.Variants) == 0 {
			return fmt.Errorf("%w: resolution example %d has no variants", ErrValidation, i)
		}
		for _, v := range ex.Variants {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("%w: resolution example %d has empty variant", ErrValidation, i)
			}
		}
	}
	for _, t := range p.EntityTypes {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: entity types must not be empty strings", ErrValidation)
		}
	}
	return nil
}

// HasResolutionOverride reports whether the caller supplied anything
// that changes resolution behavior beyond the default exact-match rule.
func (p PromptConfig) HasResolutionOverride() bool {
	return p.ResolutionTemplate != "" || len(p.ResolutionExamples) > 0
}
