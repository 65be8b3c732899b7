// Package pgx implements GraphStore on PostgreSQL with pgvector for
// entity embeddings. Commits for a graph are serialized by locking the
// graph row, so concurrent workers cannot interleave merge batches.
package pgx

import (
	"context"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loomgraph/loom/pkg/common"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Store implements store.GraphStore against a pgx connection pool.
type Store struct {
	conn pgxIConn
}

// NewWithConnection creates a Store over an existing connection or pool.
func NewWithConnection(conn pgxIConn) *Store {
	return &Store{conn: conn}
}

// lockGraph selects the graph row FOR UPDATE, serializing writers on it
// for the duration of the transaction.
func lockGraph(ctx context.Context, tx pgxv5.Tx, scope, name string) (int64, common.GraphStatus, error) {
	var id int64
	var status string
	err := tx.QueryRow(ctx,
		`SELECT id, status FROM graphs WHERE scope = $1 AND name = $2 FOR UPDATE`,
		scope, name,
	).Scan(&id, &status)
	if err == pgxv5.ErrNoRows {
		return 0, "", fmt.Errorf("graph %q in scope %q: %w", name, scope, common.ErrNotFound)
	}
	if err != nil {
		return 0, "", err
	}
	return id, common.GraphStatus(status), nil
}
