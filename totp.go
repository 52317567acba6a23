package authcore

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpSecretBytes = 20
	qrCodeSize      = 256
)

var errEmptyTOTPSecret = errors.New("empty totp secret")

type totpManager struct {
	config TOTPConfig
	algo   otp.Algorithm
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	return &totpManager{config: cfg, algo: parseOTPAlgorithm(cfg.Algorithm)}
}

func parseOTPAlgorithm(name string) otp.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return otp.AlgorithmSHA256
	case "SHA512":
		return otp.AlgorithmSHA512
	default:
		return otp.AlgorithmSHA1
	}
}

// Generate creates a fresh secret for account and returns it together with
// the otpauth URL and a PNG QR code of that URL.
func (m *totpManager) Generate(account string) (*TwoFactorSetup, error) {
	if m == nil {
		return nil, ErrEngineNotReady
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.config.Issuer,
		AccountName: account,
		Period:      m.config.Period,
		SecretSize:  totpSecretBytes,
		Digits:      otp.Digits(m.config.Digits),
		Algorithm:   m.algo,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("render totp qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode totp qr: %w", err)
	}

	return &TwoFactorSetup{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCodePNG:  buf.Bytes(),
	}, nil
}

// VerifyCode checks code against the base32 secret within the configured
// skew and returns the matching time step. Codes of the wrong length or with
// non-digits are rejected without computing anything.
func (m *totpManager) VerifyCode(secret, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumericString(trimmed) {
		return false, 0, nil
	}
	if secret == "" {
		return false, 0, errEmptyTOTPSecret
	}

	opts := totp.ValidateOpts{
		Period:    m.config.Period,
		Digits:    otp.Digits(m.config.Digits),
		Algorithm: m.algo,
	}
	period := int64(m.config.Period)
	base := now.Unix() / period
	skew := int64(m.config.Skew)

	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		generated, err := totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0), opts)
		if err != nil {
			return false, 0, fmt.Errorf("compute totp: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}

	return false, 0, nil
}

func isNumericString(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
