package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/loomgraph/loom/pkg/common"
)

func (s *Store) Create(ctx context.Context, scope, name string, documentIDs []string, prompts common.PromptConfig) (*common.Graph, error) {
	promptsJSON, err := json.Marshal(prompts)
	if err != nil {
		return nil, err
	}

	var g common.Graph
	var status string
	err = s.conn.QueryRow(ctx,
		`INSERT INTO graphs (scope, name, document_ids, status, prompts)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING scope, name, document_ids, status, created_at, updated_at`,
		scope, name, documentIDs, string(common.StatusQueued), promptsJSON,
	).Scan(&g.Scope, &g.Name, &g.DocumentIDs, &status, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation on (scope, name)
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrAlreadyExists)
		}
		return nil, err
	}
	g.Status = common.GraphStatus(status)
	g.Prompts = prompts
	return &g, nil
}

func (s *Store) Get(ctx context.Context, scope, name string) (*common.Graph, error) {
	var g common.Graph
	var graphID int64
	var status string
	var promptsJSON []byte
	err := s.conn.QueryRow(ctx,
		`SELECT id, scope, name, document_ids, status, error, prompts, created_at, updated_at
		 FROM graphs WHERE scope = $1 AND name = $2`,
		scope, name,
	).Scan(&graphID, &g.Scope, &g.Name, &g.DocumentIDs, &status, &g.Error, &promptsJSON, &g.CreatedAt, &g.UpdatedAt)
	if err == pgxv5.ErrNoRows {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	g.Status = common.GraphStatus(status)
	if len(promptsJSON) > 0 {
		if err := json.Unmarshal(promptsJSON, &g.Prompts); err != nil {
			return nil, err
		}
	}

	g.Entities, err = s.loadEntities(ctx, graphID)
	if err != nil {
		return nil, err
	}
	g.Relationships, err = s.loadRelationships(ctx, graphID)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) loadEntities(ctx context.Context, graphID int64) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT public_id, label, type, properties, document_ids, embedding, seq
		 FROM entities WHERE graph_id = $1 ORDER BY seq`,
		graphID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]common.Entity, 0)
	for rows.Next() {
		var e common.Entity
		var propsJSON []byte
		var embedding *pgvector.Vector
		if err := rows.Scan(&e.ID, &e.Label, &e.Type, &propsJSON, &e.DocumentIDs, &embedding, &e.Seq); err != nil {
			return nil, err
		}
		if len(propsJSON) > 0 {
			if err := json.Unmarshal(propsJSON, &e.Properties); err != nil {
				return nil, err
			}
		}
		if embedding != nil {
			e.Embedding = embedding.Slice()
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *Store) loadRelationships(ctx context.Context, graphID int64) ([]common.Relationship, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT public_id, source_id, target_id, type, document_ids
		 FROM relationships WHERE graph_id = $1 ORDER BY id`,
		graphID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rels := make([]common.Relationship, 0)
	for rows.Next() {
		var r common.Relationship
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.DocumentIDs); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func (s *Store) ListNames(ctx context.Context, scope string) ([]string, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT name FROM graphs WHERE scope = $1 ORDER BY name`, scope,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Delete(ctx context.Context, scope, name string) error {
	// Entities and relationships go with the graph via ON DELETE CASCADE.
	tag, err := s.conn.Exec(ctx,
		`DELETE FROM graphs WHERE scope = $1 AND name = $2`, scope, name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	return nil
}

func (s *Store) Transition(ctx context.Context, scope, name string, status common.GraphStatus, buildErr string) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	graphID, current, err := lockGraph(ctx, tx, scope, name)
	if err != nil {
		return err
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("cannot move graph %q from %s to %s: %w", name, current, status, common.ErrInvalidTransition)
	}

	msg := ""
	if status == common.StatusFailed {
		msg = buildErr
	}
	_, err = tx.Exec(ctx,
		`UPDATE graphs SET status = $2, error = $3, updated_at = now() WHERE id = $1`,
		graphID, string(status), msg,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Requeue(ctx context.Context, scope, name string, addDocumentIDs []string, prompts *common.PromptConfig) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	graphID, current, err := lockGraph(ctx, tx, scope, name)
	if err != nil {
		return err
	}
	if !current.Terminal() {
		return fmt.Errorf("graph %q is %s: %w", name, current, common.ErrConcurrentBuild)
	}

	var docIDs []string
	if err := tx.QueryRow(ctx, `SELECT document_ids FROM graphs WHERE id = $1`, graphID).Scan(&docIDs); err != nil {
		return err
	}
	for _, id := range addDocumentIDs {
		if !slices.Contains(docIDs, id) {
			docIDs = append(docIDs, id)
		}
	}

	if prompts != nil {
		promptsJSON, err := json.Marshal(prompts)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE graphs SET prompts = $2 WHERE id = $1`, graphID, promptsJSON)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE graphs SET status = $2, error = '', document_ids = $3, updated_at = now() WHERE id = $1`,
		graphID, string(common.StatusQueued), docIDs,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}
