package migrations

import (
	"context"

	"github.com/uptrace/bun"

	"trivia-duel-service/internal/infra/sqldb"
)

func init() {
	// the duels schema is shared with the SQLite store
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			return sqldb.EnsureSchema(db.DB)
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS duels`)
			return err
		},
	)
}
