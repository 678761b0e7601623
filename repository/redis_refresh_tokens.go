package repository

import (
	"context"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	auth "github.com/goliatone/go-taskauth"
)

const defaultKeyPrefix = "taskauth:"

const (
	consumeMissing  = 0
	consumeOK       = 1
	consumeReused   = 2
	consumeExpired  = 3
	fieldID         = "id"
	fieldUserID     = "user_id"
	fieldFamilyID   = "family_id"
	fieldExpiresAt  = "expires_at"
	fieldConsumedAt = "consumed_at"
	fieldCreatedAt  = "created_at"
)

// consumeScript marks a record consumed if it is live. Times are unix millis.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local consumed = redis.call('HGET', KEYS[1], 'consumed_at')
if consumed and consumed ~= '' then
	return 2
end
local expires = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if expires <= tonumber(ARGV[1]) then
	return 3
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
return 1
`)

// revokeFamilyScript deletes every record of a family and the family index.
var revokeFamilyScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, h in ipairs(members) do
	n = n + redis.call('DEL', ARGV[1] .. h)
end
redis.call('DEL', KEYS[1])
return n
`)

// RedisRefreshTokens keeps refresh records in Redis hashes keyed by the
// credential hash, with a set per family. Records expire on their own, so
// DeleteExpired is a no-op. The family scripts build keys at runtime and
// need a single node deployment.
type RedisRefreshTokens struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.RefreshTokenStore = (*RedisRefreshTokens)(nil)

type RedisOption func(*RedisRefreshTokens)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRefreshTokens) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func NewRedisRefreshTokens(client redis.UniversalClient, opts ...RedisOption) *RedisRefreshTokens {
	r := &RedisRefreshTokens{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// NewRedisRefreshTokensFromURL parses a redis:// URL
func NewRedisRefreshTokensFromURL(url string, opts ...RedisOption) (*RedisRefreshTokens, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid redis url")
	}
	return NewRedisRefreshTokens(redis.NewClient(options), opts...), nil
}

func (r *RedisRefreshTokens) Close() error {
	return r.client.Close()
}

func (r *RedisRefreshTokens) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRefreshTokens) tokenKey(hash string) string {
	return r.prefix + "rt:" + hash
}

func (r *RedisRefreshTokens) familyKey(id uuid.UUID) string {
	return r.prefix + "rtf:" + id.String()
}

func (r *RedisRefreshTokens) Save(ctx context.Context, record *auth.RefreshToken) error {
	key := r.tokenKey(record.TokenHash)
	famKey := r.familyKey(record.FamilyID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			fieldID:         record.ID.String(),
			fieldUserID:     record.UserID.String(),
			fieldFamilyID:   record.FamilyID.String(),
			fieldExpiresAt:  toMillis(record.ExpiresAt),
			fieldConsumedAt: "",
			fieldCreatedAt:  toMillis(record.CreatedAt),
		})
		pipe.ExpireAt(ctx, key, record.ExpiresAt)
		pipe.SAdd(ctx, famKey, record.TokenHash)
		pipe.ExpireAt(ctx, famKey, record.ExpiresAt)
		return nil
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to save refresh token")
	}
	return nil
}

func (r *RedisRefreshTokens) Find(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	values, err := r.client.HGetAll(ctx, r.tokenKey(tokenHash)).Result()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh token")
	}
	if len(values) == 0 {
		return nil, auth.ErrRefreshTokenNotFound
	}
	return decodeRecord(tokenHash, values)
}

func (r *RedisRefreshTokens) Consume(ctx context.Context, tokenHash string, now time.Time) (*auth.RefreshToken, error) {
	status, err := consumeScript.Run(ctx, r.client, []string{r.tokenKey(tokenHash)}, toMillis(now)).Int()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume refresh token")
	}

	if status == consumeMissing {
		return nil, auth.ErrRefreshTokenNotFound
	}

	record, err := r.Find(ctx, tokenHash)
	if err != nil {
		return nil, err
	}

	switch status {
	case consumeReused:
		return record, auth.ErrRefreshTokenReused
	case consumeExpired:
		return record, auth.ErrRefreshTokenExpired
	case consumeOK:
		return record, nil
	}

	return nil, goerrors.New("unexpected consume status "+strconv.Itoa(status), goerrors.CategoryInternal)
}

func (r *RedisRefreshTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error) {
	n, err := revokeFamilyScript.Run(ctx, r.client, []string{r.familyKey(familyID)}, r.prefix+"rt:").Int64()
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh family")
	}
	return n, nil
}

func (r *RedisRefreshTokens) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func decodeRecord(tokenHash string, values map[string]string) (*auth.RefreshToken, error) {
	record := &auth.RefreshToken{TokenHash: tokenHash}

	var err error
	if record.ID, err = uuid.Parse(values[fieldID]); err != nil {
		return nil, corrupt(err)
	}
	if record.UserID, err = uuid.Parse(values[fieldUserID]); err != nil {
		return nil, corrupt(err)
	}
	if record.FamilyID, err = uuid.Parse(values[fieldFamilyID]); err != nil {
		return nil, corrupt(err)
	}
	if record.ExpiresAt, err = fromMillis(values[fieldExpiresAt]); err != nil {
		return nil, corrupt(err)
	}
	if record.CreatedAt, err = fromMillis(values[fieldCreatedAt]); err != nil {
		return nil, corrupt(err)
	}
	if raw := values[fieldConsumedAt]; raw != "" {
		consumedAt, err := fromMillis(raw)
		if err != nil {
			return nil, corrupt(err)
		}
		record.ConsumedAt = &consumedAt
	}

	return record, nil
}

func corrupt(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt refresh token record")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
