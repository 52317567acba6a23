package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statusNotFound int64 = 0
	statusExpired  int64 = 1
	statusMismatch int64 = 2
	statusApplied  int64 = 3
	statusRevoked  int64 = 5
)

const defaultKeyPrefix = "arr"

const rotateScript = `
local rec_key = KEYS[1]
local next_key = KEYS[2]
local provided = ARGV[1]
local now = tonumber(ARGV[2])
local next_id = ARGV[3]
local next_hash = ARGV[4]
local next_exp = tonumber(ARGV[5])
local retain_ms = tonumber(ARGV[6])
local index_prefix = ARGV[7]

local f = redis.call("HMGET", rec_key, "acc", "role", "sh", "exp", "rat")
if not f[1] then
  return {0}
end
if f[3] ~= provided then
  return {2}
end
if tonumber(f[5]) ~= 0 then
  return {5}
end
if tonumber(f[4]) <= now then
  return {1}
end

redis.call("HSET", rec_key, "rat", ARGV[2], "rby", next_id)

redis.call("HSET", next_key,
  "acc", f[1], "role", f[2], "sh", next_hash,
  "iat", ARGV[2], "exp", ARGV[5], "rat", "0", "rby", "")
local keep_until = next_exp * 1000 + retain_ms
redis.call("PEXPIREAT", next_key, keep_until)

local index_key = index_prefix .. f[1]
redis.call("SADD", index_key, next_id)
redis.call("PEXPIREAT", index_key, keep_until)

return {3, f[1], f[2]}
`

const revokeScript = `
local rec_key = KEYS[1]
local provided = ARGV[1]
local now = tonumber(ARGV[2])

local f = redis.call("HMGET", rec_key, "acc", "role", "sh", "exp", "rat")
if not f[1] then
  return {0}
end
if f[3] ~= provided then
  return {2}
end
if tonumber(f[5]) ~= 0 then
  return {5}
end
if tonumber(f[4]) <= now then
  return {1}
end

redis.call("HSET", rec_key, "rat", ARGV[2])
return {3, f[1], f[2]}
`

const revokeAllScript = `
local index_key = KEYS[1]
local rec_prefix = ARGV[1]
local now = tonumber(ARGV[2])

local ids = redis.call("SMEMBERS", index_key)
local revoked = 0
for _, id in ipairs(ids) do
  local rec_key = rec_prefix .. id
  local f = redis.call("HMGET", rec_key, "exp", "rat")
  if not f[1] then
    redis.call("SREM", index_key, id)
  elseif tonumber(f[2]) == 0 and tonumber(f[1]) > now then
    redis.call("HSET", rec_key, "rat", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`

var (
	rotateLua    = redis.NewScript(rotateScript)
	revokeLua    = redis.NewScript(revokeScript)
	revokeAllLua = redis.NewScript(revokeAllScript)
)

// RedisStore keeps refresh records as Redis hashes. A record key lives until
// its expiry plus the retention window, so replays of a redeemed token are
// still recognised after rotation. Each account has an index set listing the
// ids issued to it.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a [RedisStore]. prefix sets the key namespace and
// retention controls how long records outlive their expiry.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) indexPrefix() string {
	return s.prefix + ":acct:"
}

func (s *RedisStore) indexKey(accountID string) string {
	return s.indexPrefix() + accountID
}

func (s *RedisStore) keepUntil(expiresAt int64) time.Time {
	return time.Unix(expiresAt, 0).Add(s.retention)
}

// Create persists a new active record.
//
//	Performance: 1 MULTI/EXEC (HSET, PEXPIREAT, SADD, PEXPIREAT).
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" || rec.AccountID == "" {
		return errors.New("session: record id and account id are required")
	}

	key := s.key(rec.ID)
	indexKey := s.indexKey(rec.AccountID)
	keep := s.keepUntil(rec.ExpiresAt)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"acc":  rec.AccountID,
			"role": rec.Role,
			"sh":   hex.EncodeToString(rec.SecretHash[:]),
			"iat":  rec.IssuedAt,
			"exp":  rec.ExpiresAt,
			"rat":  rec.RevokedAt,
			"rby":  rec.ReplacedBy,
		})
		pipe.PExpireAt(ctx, key, keep)
		pipe.SAdd(ctx, indexKey, rec.ID)
		pipe.PExpireAt(ctx, indexKey, keep)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the record with the given id, revoked or not.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeFields(id, fields)
}

// Rotate redeems the record id and creates next in one Lua call.
//
//	Performance: 1 EVALSHA.
//	Security: the presented record is untouched unless the swap succeeds.
func (s *RedisStore) Rotate(ctx context.Context, id string, secretHash [32]byte, next Successor, now time.Time) (*Record, error) {
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id), s.key(next.ID)},
		hex.EncodeToString(secretHash[:]),
		now.Unix(),
		next.ID,
		hex.EncodeToString(next.SecretHash[:]),
		next.ExpiresAt,
		s.retention.Milliseconds(),
		s.indexPrefix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	accountID, role, err := parseScriptResult(result)
	if err != nil {
		return nil, err
	}

	return &Record{
		ID:         next.ID,
		AccountID:  accountID,
		Role:       role,
		SecretHash: next.SecretHash,
		IssuedAt:   now.Unix(),
		ExpiresAt:  next.ExpiresAt,
	}, nil
}

// Revoke marks a single record revoked without creating a successor.
func (s *RedisStore) Revoke(ctx context.Context, id string, secretHash [32]byte, now time.Time) (*Record, error) {
	result, err := revokeLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id)},
		hex.EncodeToString(secretHash[:]),
		now.Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	accountID, role, err := parseScriptResult(result)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, AccountID: accountID, Role: role, SecretHash: secretHash, RevokedAt: now.Unix()}, nil
}

// RevokeAllForAccount marks every active record of the account revoked and
// returns how many were changed. Index entries whose record has aged out are
// pruned in the same call.
func (s *RedisStore) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int, error) {
	n, err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.indexKey(accountID)},
		s.prefix+":",
		now.Unix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

// Ping reports Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func parseScriptResult(result interface{}) (string, string, error) {
	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return "", "", fmt.Errorf("%w: invalid script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return "", "", fmt.Errorf("%w: invalid script status", ErrUnavailable)
	}

	switch code {
	case statusNotFound:
		return "", "", ErrNotFound
	case statusExpired:
		return "", "", ErrExpired
	case statusMismatch:
		return "", "", ErrSecretMismatch
	case statusRevoked:
		return "", "", ErrRevoked
	case statusApplied:
		if len(parts) < 3 {
			return "", "", fmt.Errorf("%w: missing record fields", ErrUnavailable)
		}
		accountID, _ := parts[1].(string)
		role, _ := parts[2].(string)
		return accountID, role, nil
	default:
		return "", "", fmt.Errorf("%w: unknown script status %d", ErrUnavailable, code)
	}
}

func decodeFields(id string, fields map[string]string) (*Record, error) {
	rec := &Record{
		ID:         id,
		AccountID:  fields["acc"],
		Role:       fields["role"],
		ReplacedBy: fields["rby"],
	}

	raw, err := hex.DecodeString(fields["sh"])
	if err != nil || len(raw) != len(rec.SecretHash) {
		return nil, fmt.Errorf("%w: corrupt secret hash for %s", ErrUnavailable, id)
	}
	copy(rec.SecretHash[:], raw)

	for name, dst := range map[string]*int64{"iat": &rec.IssuedAt, "exp": &rec.ExpiresAt, "rat": &rec.RevokedAt} {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt %s for %s", ErrUnavailable, name, id)
		}
		*dst = v
	}
	return rec, nil
}
