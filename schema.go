package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CreateSchema creates the tables and indexes used by this package.
// It is safe to call on every start.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*Organization)(nil),
		(*User)(nil),
		(*RefreshToken)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*User)(nil), "idx_users_organization_id", "organization_id"},
		{(*RefreshToken)(nil), "idx_refresh_tokens_family_id", "family_id"},
		{(*RefreshToken)(nil), "idx_refresh_tokens_expires_at", "expires_at"},
	}

	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index")
		}
	}

	return nil
}
