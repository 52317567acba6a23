package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("login challenge not found")
	ErrChallengeExpired  = errors.New("login challenge expired")
	ErrChallengeBackend  = errors.New("login challenge backend unavailable")
)

// Challenge is a pending second-factor login for one account.
type Challenge struct {
	AccountID string
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore persists pending challenges.
type ChallengeStore interface {
	Save(ctx context.Context, record *Challenge, ttl time.Duration) error
	Get(ctx context.Context, accountID string) (*Challenge, error)
	// Consume deletes the challenge and reports whether this caller removed
	// it. Exactly one of several concurrent callers gets true.
	Consume(ctx context.Context, accountID string) (bool, error)
	// RecordFailure increments the attempt counter and deletes the record
	// once maxAttempts is reached, reporting whether that happened.
	RecordFailure(ctx context.Context, accountID string, maxAttempts int) (bool, error)
}

// RedisChallengeStore keeps challenges in Redis.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisChallengeStore(redisClient redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "ach"
	}
	return &RedisChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisChallengeStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *RedisChallengeStore) Save(ctx context.Context, record *Challenge, ttl time.Duration) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.AccountID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, accountID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(accountID)).Result()
		return nil, ErrChallengeExpired
	}
	return record, nil
}

func (s *RedisChallengeStore) Consume(ctx context.Context, accountID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

func (s *RedisChallengeStore) RecordFailure(ctx context.Context, accountID string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(accountID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, fmt.Errorf("%w: contention", ErrChallengeBackend)
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.AccountID) > 65535 {
		return nil, errors.New("challenge account id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.AccountID)

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.AccountID = string(id)

	return record, nil
}

// MemoryChallengeStore is the single-process fallback used when no Redis
// client is configured.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]Challenge
	now     func() time.Time
}

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		records: make(map[string]Challenge),
		now:     time.Now,
	}
}

func (s *MemoryChallengeStore) Save(ctx context.Context, record *Challenge, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.records[record.AccountID] = *record
	return nil
}

func (s *MemoryChallengeStore) Get(_ context.Context, accountID string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[accountID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if s.now().Unix() > rec.ExpiresAt {
		delete(s.records, accountID)
		return nil, ErrChallengeExpired
	}
	out := rec
	return &out, nil
}

func (s *MemoryChallengeStore) Consume(_ context.Context, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[accountID]
	if !ok {
		return false, nil
	}
	delete(s.records, accountID)
	return s.now().Unix() <= rec.ExpiresAt, nil
}

func (s *MemoryChallengeStore) RecordFailure(_ context.Context, accountID string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[accountID]
	if !ok {
		return false, ErrChallengeNotFound
	}
	if s.now().Unix() > rec.ExpiresAt {
		delete(s.records, accountID)
		return false, ErrChallengeExpired
	}
	rec.Attempts++
	if int(rec.Attempts) >= maxAttempts {
		delete(s.records, accountID)
		return true, nil
	}
	s.records[accountID] = rec
	return false, nil
}

func (s *MemoryChallengeStore) sweepLocked() {
	now := s.now().Unix()
	for k, rec := range s.records {
		if now > rec.ExpiresAt {
			delete(s.records, k)
		}
	}
}
