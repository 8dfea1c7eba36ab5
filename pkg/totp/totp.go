package totp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/vritti-ai-platforms/cloud-server-sub003/pkg/utils"
)

const (
	SKEW   = 1
	PERIOD = 30

	backupCodeCount  = 10
	backupCodeLength = 8
	qrImageSize      = 200
)

// Enrollment is returned once at enrollment time. The caller persists the
// secret and bcrypt hashes of the backup codes; the plaintext codes are
// never shown again.
type Enrollment struct {
	Secret        string
	QRImageBase64 string
	ManualKey     string
	Issuer        string
	AccountLabel  string
	BackupCodes   []string
}

// Engine generates TOTP enrollments and validates codes.
type Engine struct {
	issuer string
}

func NewEngine(issuer string) *Engine {
	return &Engine{issuer: issuer}
}

// Enroll generates a new shared secret, a scannable provisioning QR image,
// and a fresh set of single-use backup codes.
func (e *Engine) Enroll(accountLabel string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountLabel,
		Period:      PERIOD,
	})
	if err != nil {
		slog.Error("Failed to generate totp secret", "account", accountLabel, "issuer", e.issuer, "error", err)
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render provisioning QR: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode provisioning QR: %w", err)
	}

	backupCodes := make([]string, backupCodeCount)
	for i := range backupCodes {
		backupCodes[i] = utils.GenerateRandomString(backupCodeLength)
	}

	slog.Info("Generated new totp enrollment", "account", accountLabel)
	return &Enrollment{
		Secret:        key.Secret(),
		QRImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		ManualKey:     key.Secret(),
		Issuer:        e.issuer,
		AccountLabel:  accountLabel,
		BackupCodes:   backupCodes,
	}, nil
}

// VerifyCode checks a time-based code against the shared secret with a
// one-step skew window to absorb clock drift.
func VerifyCode(code, secret string) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    PERIOD,
		Skew:      SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to validate totp passcode", "error", err)
		return false, err
	}
	return valid, nil
}

// HashBackupCodes bcrypt-hashes a set of plaintext backup codes for storage.
func HashBackupCodes(codes []string) ([]string, error) {
	hashes := make([]string, len(codes))
	for i, code := range codes {
		h, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		hashes[i] = string(h)
	}
	return hashes, nil
}

// VerifyBackupCode matches a code against the hashed set. On a match it
// returns the set with that hash removed; backup codes are strictly
// single-use and the caller persists the reduced set.
func VerifyBackupCode(code string, hashes []string) (bool, []string) {
	for i, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			remaining := make([]string, 0, len(hashes)-1)
			remaining = append(remaining, hashes[:i]...)
			remaining = append(remaining, hashes[i+1:]...)
			return true, remaining
		}
	}
	return false, hashes
}
