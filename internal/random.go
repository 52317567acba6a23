package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RecordID is the 16-byte identifier of a refresh token record. It is a
// ULID, so records issued for one account sort by issue time.
type RecordID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// ErrMalformedToken is returned when a refresh token cannot be decoded.
var ErrMalformedToken = errors.New("malformed refresh token")

func NewRecordID() (RecordID, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(id), nil
}

func (r RecordID) String() string {
	return ulid.ULID(r).String()
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(id), nil
}

func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs the record id and the random secret into the
// opaque string handed to the client.
func EncodeRefreshToken(id RecordID, secret [refreshSecretSize]byte) string {
	var raw [refreshTokenRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func DecodeRefreshToken(token string) (RecordID, [refreshSecretSize]byte, error) {
	var (
		id     RecordID
		secret [refreshSecretSize]byte
	)

	if len(token) != base64.RawURLEncoding.EncodedLen(refreshTokenRawSize) {
		return id, secret, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenRawSize {
		return id, secret, ErrMalformedToken
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id, secret, nil
}
