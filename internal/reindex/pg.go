// Package reindex provides the Postgres-backed reindex target: drained
// batches mark denormalized search documents stale, and the search sync picks
// stale rows up from there. The search engine itself stays behind the
// worker.Reindexer interface.
package reindex

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Pg struct {
	db  *pgxpool.Pool
	log *zap.Logger
}

func NewPg(db *pgxpool.Pool, log *zap.Logger) *Pg {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pg{db: db, log: log}
}

// Reindex marks the documents for the given ids stale. A nil fields slice
// stores NULL, meaning the whole document is rebuilt.
func (s *Pg) Reindex(ctx context.Context, resourceType string, ids, fields []string) error {
	tag, err := s.db.Exec(ctx, `update search_documents
   set stale = true,
       stale_fields = $3,
       updated_at = now()
 where resource_type = $1
   and resource_id = any($2)`,
		resourceType, ids, fields,
	)
	if err != nil {
		return errors.Wrapf(err, "reindex: mark stale %s", resourceType)
	}
	s.log.Info("marked documents stale",
		zap.String("type", resourceType),
		zap.Int("requested", len(ids)),
		zap.Int64("updated", tag.RowsAffected()),
	)
	return nil
}
