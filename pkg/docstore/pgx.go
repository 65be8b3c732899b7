package docstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomgraph/loom/pkg/common"
)

// PgxStore reads the ingestion service's documents and document_chunks
// tables. It never writes; chunking stays the ingestion side's job.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore creates a DocumentStore backed by the shared postgres
// instance.
func NewPgxStore(pool *pgxpool.Pool) *PgxStore {
	return &PgxStore{pool: pool}
}

func (s *PgxStore) GetChunks(ctx context.Context, documentID string) ([]common.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, chunk_index, chunk_text
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]common.Chunk, 0)
	for rows.Next() {
		var c common.Chunk
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PgxStore) ResolveFilter(ctx context.Context, scope string, filter Filter) ([]string, error) {
	if len(filter.IDs) > 0 {
		rows, err := s.pool.Query(ctx, `
			SELECT id FROM documents
			WHERE scope = $1 AND id = ANY($2)
			ORDER BY id`,
			scope, filter.IDs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve document IDs: %w", err)
		}
		defer rows.Close()
		return scanIDs(rows)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id FROM documents
		WHERE scope = $1
		  AND ($2 = '' OR id LIKE $2 || '%')
		  AND ($3::text[] IS NULL OR tags @> $3)
		ORDER BY id`,
		scope, filter.Prefix, nilIfEmpty(filter.Tags),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document filter: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

type idRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanIDs(rows idRows) ([]string, error) {
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nilIfEmpty(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	return tags
}
