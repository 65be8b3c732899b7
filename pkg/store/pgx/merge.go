package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/common"
	"github.com/loomgraph/loom/pkg/logger"
	"github.com/loomgraph/loom/pkg/store"
)

func (s *Store) Entities(ctx context.Context, scope, name string) ([]common.Entity, error) {
	var graphID int64
	err := s.conn.QueryRow(ctx,
		`SELECT id FROM graphs WHERE scope = $1 AND name = $2`, scope, name,
	).Scan(&graphID)
	if err == pgxv5.ErrNoRows {
		return nil, fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.loadEntities(ctx, graphID)
}

type entityRow struct {
	dbID        int64
	publicID    string
	label       string
	typ         string
	documentIDs []string
}

func identityKey(label, typ string) string {
	return strings.ToLower(ai.NormalizeLabel(label)) + "|" + strings.ToLower(ai.NormalizeLabel(typ))
}

// ApplyMergePlan commits one batch of resolved extraction results. The
// whole plan is applied in a single transaction holding the graph row
// lock; a plan that fails validation rolls back without a trace.
func (s *Store) ApplyMergePlan(ctx context.Context, scope, name string, plan store.MergePlan) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	graphID, _, err := lockGraph(ctx, tx, scope, name)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx,
		`SELECT id, public_id, label, type, document_ids FROM entities WHERE graph_id = $1`,
		graphID,
	)
	if err != nil {
		return err
	}
	existing := make([]entityRow, 0)
	for rows.Next() {
		var e entityRow
		if err := rows.Scan(&e.dbID, &e.publicID, &e.label, &e.typ, &e.documentIDs); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	byID := make(map[string]*entityRow, len(existing))
	byIdentity := make(map[string]*entityRow, len(existing))
	for i := range existing {
		byID[existing[i].publicID] = &existing[i]
		byIdentity[identityKey(existing[i].label, existing[i].typ)] = &existing[i]
	}

	planKeys := make(map[string]bool, len(plan.New))
	for _, pe := range plan.New {
		if pe.Key == "" {
			return fmt.Errorf("planned entity %q has no key: %w", pe.Label, common.ErrIntegrity)
		}
		if planKeys[pe.Key] {
			return fmt.Errorf("duplicate plan key %q: %w", pe.Key, common.ErrIntegrity)
		}
		planKeys[pe.Key] = true
	}
	for _, m := range plan.Merges {
		if _, ok := byID[m.EntityID]; !ok {
			return fmt.Errorf("merge references unknown entity %q: %w", m.EntityID, common.ErrIntegrity)
		}
	}
	for _, r := range plan.Relationships {
		for _, ref := range []store.EntityRef{r.Source, r.Target} {
			switch {
			case ref.ID != "":
				if _, ok := byID[ref.ID]; !ok {
					return fmt.Errorf("relationship references unknown entity %q: %w", ref.ID, common.ErrIntegrity)
				}
			case ref.Key != "":
				if !planKeys[ref.Key] {
					return fmt.Errorf("relationship references unknown plan key %q: %w", ref.Key, common.ErrIntegrity)
				}
			default:
				return fmt.Errorf("relationship endpoint is empty: %w", common.ErrIntegrity)
			}
		}
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM entities WHERE graph_id = $1`, graphID,
	).Scan(&seq); err != nil {
		return err
	}

	logger.Debug("[Store][ApplyMergePlan] Committing batch",
		"graph", name, "new", len(plan.New), "merges", len(plan.Merges), "relationships", len(plan.Relationships))

	keyToID := make(map[string]string, len(plan.New))
	for _, pe := range plan.New {
		if prev, dup := byIdentity[identityKey(pe.Label, pe.Type)]; dup {
			prev.documentIDs = appendMissing(prev.documentIDs, pe.DocumentIDs)
			keyToID[pe.Key] = prev.publicID
			if _, err := tx.Exec(ctx,
				`UPDATE entities SET document_ids = $2 WHERE id = $1`,
				prev.dbID, prev.documentIDs,
			); err != nil {
				return err
			}
			continue
		}

		publicID, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate entity ID: %w", err)
		}
		propsJSON, err := json.Marshal(pe.Properties)
		if err != nil {
			return err
		}
		seq++
		var dbID int64
		err = tx.QueryRow(ctx,
			`INSERT INTO entities (graph_id, public_id, label, type, properties, document_ids, seq)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			graphID, publicID, pe.Label, pe.Type, propsJSON, pe.DocumentIDs, seq,
		).Scan(&dbID)
		if err != nil {
			return err
		}
		keyToID[pe.Key] = publicID

		existing = append(existing, entityRow{dbID: dbID, publicID: publicID, label: pe.Label, typ: pe.Type, documentIDs: slices.Clone(pe.DocumentIDs)})
		e := &existing[len(existing)-1]
		byID[publicID] = e
		byIdentity[identityKey(pe.Label, pe.Type)] = e
	}

	for _, m := range plan.Merges {
		e := byID[m.EntityID]
		e.documentIDs = appendMissing(e.documentIDs, m.DocumentIDs)
		if _, err := tx.Exec(ctx,
			`UPDATE entities SET document_ids = $2 WHERE id = $1`,
			e.dbID, e.documentIDs,
		); err != nil {
			return err
		}
	}

	resolveRef := func(ref store.EntityRef) string {
		if ref.ID != "" {
			return ref.ID
		}
		return keyToID[ref.Key]
	}

	for _, r := range plan.Relationships {
		srcID := resolveRef(r.Source)
		tgtID := resolveRef(r.Target)

		publicID, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate relationship ID: %w", err)
		}
		// An edge that already exists under (source, target, type)
		// only gains provenance.
		_, err = tx.Exec(ctx,
			`INSERT INTO relationships (graph_id, public_id, source_id, target_id, type, document_ids)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (graph_id, source_id, target_id, type) DO UPDATE
			 SET document_ids = (
			     SELECT ARRAY(SELECT DISTINCT unnest(relationships.document_ids || EXCLUDED.document_ids))
			 )`,
			graphID, publicID, srcID, tgtID, r.Type, r.DocumentIDs,
		)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE graphs SET updated_at = now() WHERE id = $1`, graphID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SaveEmbeddings(ctx context.Context, scope, name string, vectors map[string][]float32) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	graphID, _, err := lockGraph(ctx, tx, scope, name)
	if err != nil {
		return err
	}

	for publicID, vec := range vectors {
		if _, err := tx.Exec(ctx,
			`UPDATE entities SET embedding = $3 WHERE graph_id = $1 AND public_id = $2`,
			graphID, publicID, pgvector.NewVector(vec),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func appendMissing(existing, add []string) []string {
	for _, id := range add {
		if !slices.Contains(existing, id) {
			existing = append(existing, id)
		}
	}
	return existing
}
