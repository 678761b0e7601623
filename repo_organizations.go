package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Organizations interface {
	repository.Repository[*Organization]

	FindByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Organization, error)
	CreateOrganizationTx(ctx context.Context, tx bun.IDB, record *Organization) (*Organization, error)
}

type organizations struct {
	repository.Repository[*Organization]
	db *bun.DB
}

var _ Organizations = (*organizations)(nil)

func NewOrganizationsRepository(db *bun.DB) Organizations {
	repo := repository.NewRepository[*Organization](db, repository.ModelHandlers[*Organization]{
		NewRecord: func() *Organization { return &Organization{} },
		GetID: func(o *Organization) uuid.UUID {
			if o == nil {
				return uuid.Nil
			}
			return o.ID
		},
		SetID: func(o *Organization, id uuid.UUID) {
			if o != nil {
				o.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &organizations{
		Repository: repo,
		db:         db,
	}
}

func (o *organizations) FindByID(ctx context.Context, id uuid.UUID) (*Organization, error) {
	return o.FindByIDTx(ctx, o.db, id)
}

func (o *organizations) FindByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Organization, error) {
	record := &Organization{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (o *organizations) CreateOrganizationTx(ctx context.Context, tx bun.IDB, record *Organization) (*Organization, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	now := time.Now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
	return o.Repository.CreateTx(ctx, tx, record)
}
