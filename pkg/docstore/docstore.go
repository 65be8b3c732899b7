// Package docstore is the boundary to the external document service.
// Documents are ingested and chunked upstream; this package only reads
// chunk text back for extraction and resolves document filters to IDs.
package docstore

import (
	"context"

	"github.com/loomgraph/loom/pkg/common"
)

// Filter selects documents within a scope. IDs wins over the other
// fields when set; Prefix matches document IDs by prefix; Tags match
// documents carrying every listed tag.
type Filter struct {
	IDs    []string `json:"ids,omitempty"`
	Prefix string   `json:"prefix,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// Empty reports whether the filter selects nothing explicitly.
func (f Filter) Empty() bool {
	return len(f.IDs) == 0 && f.Prefix == "" && len(f.Tags) == 0
}

// DocumentStore reads chunked document text for graph construction.
//
// GetChunks returns the ordered chunks of one document; an unknown
// document yields an empty slice, not an error, so a stale ID cannot
// fail a whole build. ResolveFilter expands a filter into the matching
// document IDs within a scope.
type DocumentStore interface {
	GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error)
	ResolveFilter(ctx context.Context, scope string, filter Filter) ([]string, error)
}
