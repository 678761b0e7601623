package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the user model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	Role           UserRole   `bun:"user_role,notnull" json:"role,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,nullzero,type:uuid" json:"organization_id,omitempty"`
	IsActive       bool       `bun:"is_active,notnull" json:"is_active"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Organization groups users and tasks. Organizations can be nested.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name"`
	Description   string     `bun:"description" json:"description,omitempty"`
	ParentID      uuid.UUID  `bun:"parent_id,nullzero,type:uuid" json:"parentId,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"createdAt,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updatedAt,omitempty"`
}

// RefreshToken is the server side record of a refresh credential.
// Only a keyed hash of the credential is stored. Every credential
// minted by rotation shares the FamilyID of the login that started it.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rtk"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	FamilyID      uuid.UUID  `bun:"family_id,notnull,type:uuid" json:"family_id"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	ConsumedAt    *time.Time `bun:"consumed_at,nullzero" json:"consumed_at,omitempty"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// IsExpired reports whether the record is past its expiry at now
func (r *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsConsumed reports whether the record was already rotated out
func (r *RefreshToken) IsConsumed() bool {
	return r.ConsumedAt != nil
}

// UserSnapshot is the user representation sent to clients
type UserSnapshot struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Username       string     `json:"username"`
	Role           string     `json:"role"`
	OrganizationID string     `json:"organizationId,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// NewUserSnapshot builds the client facing view of an identity
func NewUserSnapshot(identity Identity) UserSnapshot {
	if identity == nil {
		return UserSnapshot{}
	}

	first, last := splitName(identity.Name())
	snap := UserSnapshot{
		ID:             identity.ID(),
		Email:          identity.Email(),
		FirstName:      first,
		LastName:       last,
		Username:       identity.Username(),
		Role:           identity.Role(),
		OrganizationID: identity.OrganizationID(),
	}

	if ts, ok := identity.(interface {
		Timestamps() (*time.Time, *time.Time)
	}); ok {
		snap.CreatedAt, snap.UpdatedAt = ts.Timestamps()
	}

	return snap
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
