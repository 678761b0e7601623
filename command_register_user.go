package auth

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Email          string    `json:"email"`
	Password       string    `json:"password"`
	Name           string    `json:"name"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Role           UserRole  `json:"role"`
	UseHashid      bool
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterOrganizationUserMessage struct {
	Email                   string    `json:"email"`
	Password                string    `json:"password"`
	Name                    string    `json:"name"`
	OrganizationName        string    `json:"organization_name"`
	OrganizationDescription string    `json:"organization_description"`
	ParentID                uuid.UUID `json:"parent_id"`
	UseHashid               bool
}

func (e RegisterOrganizationUserMessage) Type() string { return "user.register_with_organization" }

// RegisterUserHandler creates users, optionally together with the
// organization they will own.
type RegisterUserHandler struct {
	repo   RepositoryManager
	hasher PasswordHasher
}

func NewRegisterUserHandler(repo RepositoryManager, hasher PasswordHasher) *RegisterUserHandler {
	if hasher == nil {
		hasher = defaultHasher
	}
	return &RegisterUserHandler{repo: repo, hasher: hasher}
}

// Execute registers a user into an existing organization
func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.newUser(ctx, event.Email, event.Password, event.Name, event.UseHashid)
	if err != nil {
		return nil, err
	}
	user.Role = event.Role
	if user.Role == "" {
		user.Role = RoleViewer
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if event.OrganizationID != uuid.Nil {
			if _, err := h.repo.Organizations().FindByIDTx(ctx, tx, event.OrganizationID); err != nil {
				if isNotFound(err) {
					return ErrOrganizationNotFound
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up organization")
			}
			user.OrganizationID = event.OrganizationID
		}

		created, err := h.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		return nil
	})

	if err != nil {
		return nil, normalizeRegistrationError(err)
	}

	return user, nil
}

// ExecuteWithOrganization creates an organization and registers its owner
// in one transaction.
func (h *RegisterUserHandler) ExecuteWithOrganization(ctx context.Context, event RegisterOrganizationUserMessage) (*User, *Organization, error) {
	select {
	case <-ctx.Done():
		return nil, nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during organization registration",
		)
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.newUser(ctx, event.Email, event.Password, event.Name, event.UseHashid)
	if err != nil {
		return nil, nil, err
	}
	user.Role = RoleOwner

	org := &Organization{
		Name:        strings.TrimSpace(event.OrganizationName),
		Description: strings.TrimSpace(event.OrganizationDescription),
		ParentID:    event.ParentID,
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if event.ParentID != uuid.Nil {
			if _, err := h.repo.Organizations().FindByIDTx(ctx, tx, event.ParentID); err != nil {
				if isNotFound(err) {
					return ErrOrganizationNotFound
				}
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up parent organization")
			}
		}

		created, err := h.repo.Organizations().CreateOrganizationTx(ctx, tx, org)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create organization")
		}
		org = created

		user.OrganizationID = org.ID
		registered, err := h.repo.Users().RegisterTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = registered
		return nil
	})

	if err != nil {
		return nil, nil, normalizeRegistrationError(err)
	}

	return user, org, nil
}

func (h *RegisterUserHandler) newUser(ctx context.Context, email, password, name string, useHashid bool) (*User, error) {
	hash, err := h.hasher.HashPassword(ctx, password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		IsActive:     true,
	}

	if useHashid {
		if id, err := hashid.NewUUID(user.Email); err == nil {
			user.ID = id
		}
	}

	return user, nil
}

func normalizeRegistrationError(err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
}
