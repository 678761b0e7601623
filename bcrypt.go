package auth

import (
	"context"
	"errors"
	"runtime"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// BcryptHasher hashes passwords with bcrypt. Comparisons are CPU bound,
// so at most maxConcurrent of them run at once and waiting callers
// honour context cancellation.
type BcryptHasher struct {
	cost    int
	sem     *semaphore.Weighted
	dummyMu sync.Mutex
	dummy   string
}

// fallbackDummyHash is a cost 10 bcrypt hash of a discarded random secret.
// It is compared against when a dummy hash cannot be generated, so unknown
// accounts never skip the comparison.
const fallbackDummyHash = "$2a$10$vT7mcuE/fxBxVgJeDjkcBOQz9rdszxRXe7xZ2agCr99H2oUtM30Ui"

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a hasher. A cost of zero uses the build default
// and maxConcurrent <= 0 uses one slot per CPU.
func NewBcryptHasher(cost int, maxConcurrent int64) *BcryptHasher {
	if cost == 0 {
		cost = passwordHashCost()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = int64(runtime.NumCPU())
	}
	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(maxConcurrent),
	}
}

// HashPassword will generate a password hash
func (h *BcryptHasher) HashPassword(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryOperation, "password hashing cancelled")
	}
	defer h.sem.Release(1)

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", NewValidationError("password is too long", map[string]string{
				"password": "must be at most 72 bytes",
			})
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	return string(out), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func (h *BcryptHasher) ComparePasswordAndHash(ctx context.Context, password, hash string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "password comparison cancelled")
	}
	defer h.sem.Release(1)

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// DummyHash returns a hash with the same cost as real ones, used to
// spend the same time on unknown accounts. Generation is retried on the
// next call after a failure, meanwhile the fallback hash is returned.
func (h *BcryptHasher) DummyHash() string {
	h.dummyMu.Lock()
	defer h.dummyMu.Unlock()

	if h.dummy == "" {
		out, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
		if err != nil {
			return fallbackDummyHash
		}
		h.dummy = string(out)
	}
	return h.dummy
}

// Cost returns the bcrypt cost in use
func (h *BcryptHasher) Cost() int {
	return h.cost
}

var defaultHasher = NewBcryptHasher(0, 0)

// HashPassword will generate a password hash with the default hasher
func HashPassword(password string) (string, error) {
	return defaultHasher.HashPassword(context.Background(), password)
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	return defaultHasher.ComparePasswordAndHash(context.Background(), password, hash)
}
