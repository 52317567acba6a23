package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Length bounds in bytes. Passwords are hashed exactly as given, with no
// Unicode normalization.
const (
	MinLength = 10
	MaxLength = 256
)

const phcAlgorithm = "argon2id"

var (
	ErrPasswordTooShort = errors.New("password must be at least 10 bytes")
	ErrPasswordTooLong  = errors.New("password must be at most 256 bytes")
	// ErrMalformedHash covers every stored value that is not a canonical
	// argon2id PHC string within the accepted cost range.
	ErrMalformedHash = errors.New("malformed argon2id hash")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type cost struct {
	memory  uint32
	time    uint32
	threads uint8
}

// Stored hashes outside [minCost, maxCost] are refused before any work is
// done, so a planted hash cannot make Verify allocate gigabytes.
var (
	minCost = cost{memory: 8 * 1024, time: 1, threads: 1}
	maxCost = cost{memory: 1 << 20, time: 16, threads: 16}
)

const minSaltOrKey = 16

func (c cost) within(lo, hi cost) bool {
	return c.memory >= lo.memory && c.memory <= hi.memory &&
		c.time >= lo.time && c.time <= hi.time &&
		c.threads >= lo.threads && c.threads <= hi.threads
}

// weakerThan reports whether any dimension of c is below target.
func (c cost) weakerThan(target cost) bool {
	return c.memory < target.memory || c.time < target.time || c.threads < target.threads
}

// digest is one decoded PHC string.
type digest struct {
	cost
	salt []byte
	key  []byte
}

func (d digest) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm, argon2.Version,
		d.memory, d.time, d.threads,
		base64.RawStdEncoding.EncodeToString(d.salt),
		base64.RawStdEncoding.EncodeToString(d.key))
}

func (d digest) derive(password string) []byte {
	return argon2.IDKey([]byte(password), d.salt, d.time, d.memory, d.threads, uint32(len(d.key)))
}

// parseDigest accepts only the exact form String produces.
func parseDigest(encoded string) (digest, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return digest{}, ErrMalformedHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return digest{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var d digest
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &d.memory, &d.time, &d.threads); err != nil {
		return digest{}, ErrMalformedHash
	}
	if parts[3] != fmt.Sprintf("m=%d,t=%d,p=%d", d.memory, d.time, d.threads) {
		return digest{}, ErrMalformedHash
	}
	if !d.cost.within(minCost, maxCost) {
		return digest{}, fmt.Errorf("%w: cost out of range", ErrMalformedHash)
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < minSaltOrKey {
		return digest{}, ErrMalformedHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) < minSaltOrKey {
		return digest{}, ErrMalformedHash
	}
	return d, nil
}

// Argon2 hashes and verifies passwords as argon2id PHC strings.
type Argon2 struct {
	config Config
	cost   cost
}

// NewArgon2 rejects parameters below the package floor.
func NewArgon2(cfg Config) (*Argon2, error) {
	c := cost{memory: cfg.Memory, time: cfg.Time, threads: cfg.Parallelism}
	switch {
	case c.memory < minCost.memory:
		return nil, fmt.Errorf("password memory must be >= %d KiB", minCost.memory)
	case c.time < minCost.time:
		return nil, errors.New("password time must be >= 1")
	case c.threads < minCost.threads:
		return nil, errors.New("password parallelism must be >= 1")
	case !c.within(minCost, maxCost):
		return nil, errors.New("password cost exceeds what Verify accepts back")
	case cfg.SaltLength < minSaltOrKey:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltOrKey)
	case cfg.KeyLength < minSaltOrKey:
		return nil, fmt.Errorf("password key length must be >= %d", minSaltOrKey)
	}
	return &Argon2{config: cfg, cost: c}, nil
}

// Hash returns a PHC-encoded digest under a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	switch {
	case len(password) < MinLength:
		return "", ErrPasswordTooShort
	case len(password) > MaxLength:
		return "", ErrPasswordTooLong
	}

	d := digest{cost: a.cost, salt: make([]byte, a.config.SaltLength), key: make([]byte, a.config.KeyLength)}
	if _, err := io.ReadFull(rand.Reader, d.salt); err != nil {
		return "", err
	}
	d.key = d.derive(password)
	return d.String(), nil
}

// Verify recomputes the digest under the stored parameters. A malformed hash
// is an error; a wrong or over-long password is (false, nil).
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	if len(password) > MaxLength {
		return false, nil
	}
	return subtle.ConstantTimeCompare(d.derive(password), d.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash is weaker than the receiver's
// profile or was derived to a different key length.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	d, err := parseDigest(encodedHash)
	if err != nil {
		return false, err
	}
	return d.cost.weakerThan(a.cost) || uint32(len(d.key)) != a.config.KeyLength, nil
}
