// Package store owns the authoritative representation of knowledge
// graphs. Identity generation and every mutation of entity and
// relationship sets happen here; extraction and resolution only
// propose. Two implementations exist: memory (single node, tests) and
// pgx (postgres with pgvector ranking columns).
package store

import (
	"context"

	"github.com/loomgraph/loom/pkg/common"
)

// EntityRef points a planned relationship at one endpoint: either an
// existing entity by ID, or an entity admitted by the same plan via its
// plan-local key. Exactly one field is set.
type EntityRef struct {
	ID  string
	Key string
}

// PlannedEntity is a new entity proposed by the resolver. Key is the
// resolver-assigned handle other plan items use to reference it before
// the store has generated an ID.
type PlannedEntity struct {
	Key         string
	Label       string
	Type        string
	Properties  map[string]any
	DocumentIDs []string
}

// PlannedMerge folds newly observed mentions into an existing entity:
// the listed document IDs are appended (deduplicated) to the entity's
// membership list. Merges never delete or rename.
type PlannedMerge struct {
	EntityID    string
	DocumentIDs []string
}

// PlannedRelationship is a proposed edge. Endpoints are EntityRefs so a
// relationship can connect two entities admitted by the same plan.
type PlannedRelationship struct {
	Source      EntityRef
	Target      EntityRef
	Type        string
	DocumentIDs []string
}

// MergePlan is the resolver's output: what to admit, what to fold into
// existing entities, and which relationships to connect. The store
// applies a plan atomically under the graph's commit lock.
type MergePlan struct {
	New           []PlannedEntity
	Merges        []PlannedMerge
	Relationships []PlannedRelationship
}

// Empty reports whether applying the plan would change nothing.
func (p MergePlan) Empty() bool {
	return len(p.New) == 0 && len(p.Merges) == 0 && len(p.Relationships) == 0
}

// GraphStore persists named knowledge graphs keyed by (scope, name).
//
// Lifecycle invariants enforced here: names are unique per scope
// (common.ErrAlreadyExists), status moves forward only
// (common.ErrInvalidTransition) with Requeue as the sole terminal
// re-entry (common.ErrConcurrentBuild when not terminal), and plans
// with dangling relationship endpoints are rejected whole
// (common.ErrIntegrity). Commits to one graph are serialized; reads
// return copies that later commits cannot mutate.
type GraphStore interface {
	// Create registers a new graph in queued state.
	Create(ctx context.Context, scope, name string, documentIDs []string, prompts common.PromptConfig) (*common.Graph, error)

	// Get returns the full graph record.
	Get(ctx context.Context, scope, name string) (*common.Graph, error)

	// ListNames returns the graph names within a scope, sorted.
	ListNames(ctx context.Context, scope string) ([]string, error)

	// Delete removes the graph with all entities and relationships
	// atomically. Safe while a build is processing: it waits for the
	// in-flight commit, which then fails against the missing graph.
	Delete(ctx context.Context, scope, name string) error

	// Entities returns the graph's current entity set in insertion
	// order, for the resolver's full-set precondition.
	Entities(ctx context.Context, scope, name string) ([]common.Entity, error)

	// ApplyMergePlan admits the plan atomically: IDs are generated for
	// new entities, merges append document IDs, relationships are
	// validated against the pre-existing plus newly admitted entity set
	// and deduplicated on (source, target, type).
	ApplyMergePlan(ctx context.Context, scope, name string, plan MergePlan) error

	// SaveEmbeddings attaches ranking vectors to entities by ID.
	// Unknown IDs are skipped.
	SaveEmbeddings(ctx context.Context, scope, name string, vectors map[string][]float32) error

	// Transition moves the lifecycle status forward. buildErr is stored
	// only with StatusFailed.
	Transition(ctx context.Context, scope, name string, status common.GraphStatus, buildErr string) error

	// Requeue moves a terminal graph back to queued for an update,
	// appending the added document IDs and replacing the prompt
	// configuration when one is supplied.
	Requeue(ctx context.Context, scope, name string, addDocumentIDs []string, prompts *common.PromptConfig) error
}
