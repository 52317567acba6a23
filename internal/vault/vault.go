package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// BackupCodeAlphabet omits characters that are easy to misread (0/O, 1/I).
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	minMasterKeyBytes = 32

	infoSecretKey = "authcore/totp-secret/v1"
	infoCodeKey   = "authcore/backup-code/v1"
)

var (
	ErrWeakMasterKey    = errors.New("vault master key must be at least 32 bytes")
	ErrCiphertextFormat = errors.New("vault ciphertext malformed")
	ErrDecrypt          = errors.New("vault decrypt failed")
)

// Vault seals TOTP secrets and digests backup codes. It is safe for
// concurrent use.
type Vault struct {
	aead    cipher.AEAD
	codeKey []byte
}

// New derives the encryption and HMAC keys from masterKey.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) < minMasterKeyBytes {
		return nil, ErrWeakMasterKey
	}

	encKey, err := deriveKey(masterKey, infoSecretKey)
	if err != nil {
		return nil, err
	}
	codeKey, err := deriveKey(masterKey, infoCodeKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: aead, codeKey: codeKey}, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealSecret encrypts a raw TOTP secret for accountID. The result is
// base64(nonce || ciphertext).
func (v *Vault) SealSecret(accountID string, secret []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, secret, []byte(accountID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (v *Vault) OpenSecret(accountID, sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrCiphertextFormat
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return nil, ErrCiphertextFormat
	}
	plain, err := v.aead.Open(nil, raw[:ns], raw[ns:], []byte(accountID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// GenerateBackupCodes returns count display-formatted codes of length
// characters each (e.g. "K7MQ2-XR9PD").
func GenerateBackupCodes(count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, errors.New("invalid backup code shape")
	}
	codes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := newBackupCode(length)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, FormatBackupCode(raw))
	}
	return codes, nil
}

func newBackupCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode accepts user input in any case, with or without
// the separator or spaces.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashBackupCode returns the hex HMAC-SHA256 of accountID || 0x00 || code.
// code must already be canonical.
func (v *Vault) HashBackupCode(accountID, canonicalCode string) string {
	mac := hmac.New(sha256.New, v.codeKey)
	_, _ = mac.Write([]byte(accountID))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(canonicalCode))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashBackupCodes canonicalizes and digests a freshly generated batch.
func (v *Vault) HashBackupCodes(accountID string, codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = v.HashBackupCode(accountID, CanonicalizeBackupCode(c))
	}
	return out
}

// ValidBackupCodeShape reports whether canonical has the expected length
// and only alphabet characters.
func ValidBackupCodeShape(canonical string, length int) bool {
	if len(canonical) != length {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(BackupCodeAlphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

// KeyedDigest returns a hex HMAC-SHA256 of parts under the code key. It is
// used to derive stable, non-reversible lookup keys (lead contact keys).
func (v *Vault) KeyedDigest(parts ...string) string {
	mac := hmac.New(sha256.New, v.codeKey)
	for i, p := range parts {
		if i > 0 {
			_, _ = mac.Write([]byte{0})
		}
		_, _ = mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
