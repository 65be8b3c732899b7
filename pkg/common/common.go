package common

import "time"

// Graph is the authoritative record of a named knowledge graph within a
// scope. It captures the extracted entities, the typed relationships
// between them, the documents that contributed to the graph, and the
// build lifecycle state.
//
// A graph is identified by (Scope, Name); the pair is unique per store.
type Graph struct {
	Scope         string         `json:"-"`
	Name          string         `json:"name"`
	DocumentIDs   []string       `json:"document_ids"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Status        GraphStatus    `json:"status"`
	Error         string         `json:"error,omitempty"`
	Prompts       PromptConfig   `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Entity is a node in the graph: a named, typed concept extracted from
// source documents. The store owns ID generation and the insertion
// sequence; DocumentIDs lists every document the entity was found in.
type Entity struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Type        string         `json:"type"`
	Properties  map[string]any `json:"properties,omitempty"`
	DocumentIDs []string       `json:"document_ids"`

	// Embedding is an optional ranking vector for the entity label,
	// populated after a successful build when an embedder is available.
	// It never appears in serialized API responses.
	Embedding []float32 `json:"-"`

	// Seq is the store-assigned insertion order, used as the
	// deterministic tie-breaker for equal similarity scores.
	Seq int `json:"-"`
}

// Relationship is a directed, typed edge between two entities of the
// same graph. Queries may traverse it in either direction.
type Relationship struct {
	ID          string   `json:"id"`
	SourceID    string   `json:"source_id"`
	TargetID    string   `json:"target_id"`
	Type        string   `json:"type"`
	DocumentIDs []string `json:"document_ids,omitempty"`
}

// Chunk is a pre-chunked segment of document text as served by the
// external document store. Ingestion and chunking happen upstream.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
}

// EntityByID returns the entity with the given ID, or nil.
func (g *Graph) EntityByID(id string) *Entity {
	for i := range g.Entities {
		if g.Entities[i].ID == id {
			return &g.Entities[i]
		}
	}
	return nil
}
