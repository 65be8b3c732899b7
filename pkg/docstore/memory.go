package docstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/loomgraph/loom/pkg/common"
)

// MemoryStore is an in-memory DocumentStore for tests and single-node
// runs. Documents are registered up front with their chunks and tags.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc // keyed by document ID
}

type memoryDoc struct {
	scope  string
	tags   []string
	chunks []common.Chunk
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// AddDocument registers a document's chunks under a scope. Chunk order
// is preserved; indices are assigned here.
func (m *MemoryStore) AddDocument(scope, documentID string, texts []string, tags ...string) {
	chunks := make([]common.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, common.Chunk{DocumentID: documentID, Index: i, Text: t})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[documentID] = memoryDoc{scope: scope, tags: tags, chunks: chunks}
}

func (m *MemoryStore) GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]common.Chunk, len(doc.chunks))
	copy(out, doc.chunks)
	return out, nil
}

func (m *MemoryStore) ResolveFilter(ctx context.Context, scope string, filter Filter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(filter.IDs) > 0 {
		ids := make([]string, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			if doc, ok := m.docs[id]; ok && doc.scope == scope {
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	ids := make([]string, 0)
	for id, doc := range m.docs {
		if doc.scope != scope {
			continue
		}
		if filter.Prefix != "" && !strings.HasPrefix(id, filter.Prefix) {
			continue
		}
		if !hasAllTags(doc.tags, filter.Tags) {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
