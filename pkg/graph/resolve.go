package graph

import (
	"context"
	"encoding/json"
	"strings"

	_ "github.com/invopop/jsonschema"

	"github.com/loomgraph/loom/internal/util"
	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/store"
)

type resolveCandidate struct {
	Label string `json:"label"`
	Type  string `json:"type"`
}

type resolveDuplicateGroup struct {
	CanonicalName string   `json:"canonicalName" jsonschema_description:"The chosen final label for the group"`
	Entities      []string `json:"entities" jsonschema_description:"Labels that refer to the same real-world entity"`
}

type resolveResponse struct {
	Duplicates []resolveDuplicateGroup `json:"duplicates" jsonschema_description:"Groups of duplicate entity labels"`
}

func identityOf(label, typ string) string {
	return strings.ToLower(ai.NormalizeLabel(label)) + "|" + strings.ToLower(ai.NormalizeLabel(typ))
}

// explicitCanonicals builds the variant-to-canonical mapping from the
// configured equivalence classes. Explicit classes outrank anything the
// model proposes.
func explicitCanonicals(examples []common.ResolutionExample) map[string]string {
	m := make(map[string]string)
	for _, ex := range examples {
		canonical := ai.NormalizeLabel(ex.Canonical)
		m[strings.ToLower(canonical)] = canonical
		for _, v := range ex.Variants {
			m[strings.ToLower(ai.NormalizeLabel(v))] = canonical
		}
	}
	return m
}

type batchEntity struct {
	label       string
	typ         string
	documentIDs []string
}

// resolve folds one document batch of extractions into a merge plan
// against the entities already committed to the graph.
func (b *Builder) resolve(
	ctx context.Context,
	existing []common.Entity,
	extractions []*chunkExtraction,
	prompts common.PromptConfig,
	client ai.Client,
) (store.MergePlan, error) {
	explicit := explicitCanonicals(prompts.ResolutionExamples)

	var aiMap map[string]string
	if b.resolveWithAI && client != nil {
		aiMap = b.resolveCanonicalsAI(ctx, existing, extractions, explicit, prompts, client)
	}

	canonical := func(label string) string {
		key := strings.ToLower(ai.NormalizeLabel(label))
		if c, ok := explicit[key]; ok {
			return c
		}
		if c, ok := aiMap[key]; ok {
			return c
		}
		return ai.NormalizeLabel(label)
	}

	existingByIdentity := make(map[string]*common.Entity, len(existing))
	for i := range existing {
		existingByIdentity[identityOf(existing[i].Label, existing[i].Type)] = &existing[i]
	}

	// Aggregate extracted entities across chunks. First occurrence of
	// an identity fixes the surface form; later ones only add
	// provenance.
	batch := make(map[string]*batchEntity)
	order := make([]string, 0)
	labelToIdentity := make(map[string]string)
	for _, ext := range extractions {
		for _, e := range ext.entities {
			label := canonical(e.Label)
			id := identityOf(label, e.Type)
			be, ok := batch[id]
			if !ok {
				be = &batchEntity{label: label, typ: e.Type}
				batch[id] = be
				order = append(order, id)
			}
			be.documentIDs = appendMissing(be.documentIDs, []string{ext.documentID})

			lkey := strings.ToLower(label)
			if _, ok := labelToIdentity[lkey]; !ok {
				labelToIdentity[lkey] = id
			}
			rawKey := strings.ToLower(ai.NormalizeLabel(e.Label))
			if _, ok := labelToIdentity[rawKey]; !ok {
				labelToIdentity[rawKey] = id
			}
		}
	}

	plan := store.MergePlan{}
	refs := make(map[string]store.EntityRef, len(batch))
	for _, id := range order {
		be := batch[id]
		if ex, ok := existingByIdentity[id]; ok {
			plan.Merges = append(plan.Merges, store.PlannedMerge{EntityID: ex.ID, DocumentIDs: be.documentIDs})
			refs[id] = store.EntityRef{ID: ex.ID}
			continue
		}
		plan.New = append(plan.New, store.PlannedEntity{
			Key:         id,
			Label:       be.label,
			Type:        be.typ,
			DocumentIDs: be.documentIDs,
		})
		refs[id] = store.EntityRef{Key: id}
	}

	// Relationship endpoints resolve by label. Endpoints the batch
	// never extracted and the graph does not hold are dropped.
	resolveEndpoint := func(label string) (store.EntityRef, bool) {
		lkey := strings.ToLower(canonical(label))
		if id, ok := labelToIdentity[lkey]; ok {
			return refs[id], true
		}
		for i := range existing {
			if strings.EqualFold(existing[i].Label, canonical(label)) {
				return store.EntityRef{ID: existing[i].ID}, true
			}
		}
		return store.EntityRef{}, false
	}

	type relKey struct {
		src, tgt, typ string
	}
	seen := make(map[relKey]int)
	for _, ext := range extractions {
		for _, r := range ext.relationships {
			src, okS := resolveEndpoint(r.Source)
			tgt, okT := resolveEndpoint(r.Target)
			if !okS || !okT {
				logger.Debug("[Resolve] Dropping relationship with unresolved endpoint",
					"source", r.Source, "target", r.Target, "type", r.Type)
				continue
			}
			k := relKey{src: src.ID + src.Key, tgt: tgt.ID + tgt.Key, typ: r.Type}
			if idx, ok := seen[k]; ok {
				plan.Relationships[idx].DocumentIDs = appendMissing(plan.Relationships[idx].DocumentIDs, []string{ext.documentID})
				continue
			}
			seen[k] = len(plan.Relationships)
			plan.Relationships = append(plan.Relationships, store.PlannedRelationship{
				Source:      src,
				Target:      tgt,
				Type:        r.Type,
				DocumentIDs: []string{ext.documentID},
			})
		}
	}

	return plan, nil
}

// resolveCanonicalsAI asks the model for duplicate groups across the
// batch and the already-committed entities. Resolution must not sink a
// build, so any failure degrades to lexical matching with a warning.
func (b *Builder) resolveCanonicalsAI(
	ctx context.Context,
	existing []common.Entity,
	extractions []*chunkExtraction,
	explicit map[string]string,
	prompts common.PromptConfig,
	client ai.Client,
) map[string]string {
	candidates := make([]resolveCandidate, 0)
	seen := make(map[string]bool)
	add := func(label, typ string) {
		label = ai.NormalizeLabel(label)
		if c, ok := explicit[strings.ToLower(label)]; ok {
			label = c
		}
		key := identityOf(label, typ)
		if label == "" || seen[key] {
			return
		}
		seen[key] = true
		candidates = append(candidates, resolveCandidate{Label: label, Type: typ})
	}
	for i := range existing {
		add(existing[i].Label, existing[i].Type)
	}
	for _, ext := range extractions {
		for _, e := range ext.entities {
			add(e.Label, e.Type)
		}
	}
	if len(candidates) < 2 {
		return nil
	}

	listing, err := json.Marshal(candidates)
	if err != nil {
		logger.Warn("[Resolve] Failed to encode candidate listing, skipping AI resolution", "err", err)
		return nil
	}

	template := prompts.ResolutionTemplate
	if template == "" {
		template = ai.ResolvePrompt
	}
	prompt := strings.ReplaceAll(template, common.PlaceholderEntities, string(listing))
	prompt = strings.ReplaceAll(prompt, common.PlaceholderExamples, renderResolutionExamples(prompts.ResolutionExamples))

	res, err := util.RetryWithContext(ctx, b.maxRetries, func(ctx context.Context) (*resolveResponse, error) {
		var out resolveResponse
		err := client.GenerateCompletionWithFormat(
			ctx,
			"resolve_duplicate_entities",
			"Group entity labels that refer to the same real-world entity.",
			strings.TrimSpace(prompt),
			&out,
		)
		return &out, err
	})
	if err != nil {
		logger.Warn("[Resolve] AI resolution failed, falling back to exact matching", "err", err)
		return nil
	}

	m := make(map[string]string)
	for _, group := range res.Duplicates {
		canonical := ai.NormalizeLabel(group.CanonicalName)
		if canonical == "" || len(group.Entities) < 2 {
			continue
		}
		for _, member := range group.Entities {
			key := strings.ToLower(ai.NormalizeLabel(member))
			if key == "" {
				continue
			}
			// Explicit classes win over model-proposed grouping.
			if _, ok := explicit[key]; ok {
				continue
			}
			m[key] = canonical
		}
		m[strings.ToLower(canonical)] = canonical
	}
	return m
}

func renderResolutionExamples(examples []common.ResolutionExample) string {
	if len(examples) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Examples\nThese labels are known to be equivalent:\n")
	for _, ex := range examples {
		sb.WriteString("- ")
		sb.WriteString(strings.Join(ex.Variants, ", "))
		sb.WriteString(" -> ")
		sb.WriteString(ex.Canonical)
		sb.WriteString("\n")
	}
	return sb.String()
}

func appendMissing(existing, add []string) []string {
	for _, id := range add {
		found := false
		for _, e := range existing {
			if e == id {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, id)
		}
	}
	return existing
}
