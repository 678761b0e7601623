package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type refreshTokens struct {
	db bun.IDB
}

var _ RefreshTokenStore = (*refreshTokens)(nil)

// NewRefreshTokensRepository returns a SQL backed RefreshTokenStore.
// Consumption is a conditional UPDATE so concurrent consumers of the
// same record cannot both win.
func NewRefreshTokensRepository(db bun.IDB) RefreshTokenStore {
	return &refreshTokens{db: db}
}

func (r *refreshTokens) Save(ctx context.Context, record *RefreshToken) error {
	_, err := r.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (r *refreshTokens) Find(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	record := &RefreshToken{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token_hash = ?", tokenHash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	return record, nil
}

func (r *refreshTokens) Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error) {
	record, err := r.Find(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	if record.IsConsumed() {
		return record, ErrRefreshTokenReused
	}

	if record.IsExpired(now) {
		return record, ErrRefreshTokenExpired
	}

	consumedAt := now.UTC()
	res, err := r.db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("consumed_at = ?", consumedAt).
		Where("id = ?", record.ID).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// lost the race against another consumer
		return record, ErrRefreshTokenReused
	}

	record.ConsumedAt = &consumedAt
	return record, nil
}

func (r *refreshTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("family_id = ?", familyID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
