package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"math/big"
	"strings"
)

const randomAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

func ToNullString(str string) sql.NullString {
	if str == "" {
		return sql.NullString{
			String: str,
			Valid:  false,
		}
	}
	return sql.NullString{
		String: str,
		Valid:  true,
	}
}

func StringPtr(s string) *string {
	return &s
}

// GenerateRandomString returns a random string of the given length drawn from
// an unambiguous alphanumeric alphabet, using crypto/rand.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(randomAlphabet))))
		if err != nil {
			// crypto/rand failing means the platform entropy source is broken
			panic(err)
		}
		b[i] = randomAlphabet[n.Int64()]
	}
	return string(b)
}

// GenerateNumericCode returns a random code of the given length containing
// only digits, using crypto/rand.
func GenerateNumericCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			panic(err)
		}
		b[i] = byte('0' + n.Int64())
	}
	return string(b)
}

// MaskEmail masks the local part of an email address for display,
// e.g. "john.doe@example.com" -> "j***e@example.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return email
	}
	local := email[:at]
	domain := email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

// MaskPhone masks all but the last four digits of a phone number,
// e.g. "+1234567890" -> "******7890".
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// HashEmail returns the hex-encoded SHA-256 hash of a lowercased email.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// HashPhone returns the hex-encoded SHA-256 hash of a normalized phone number.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(NormalizePhone(phone)))
	return hex.EncodeToString(sum[:])
}

// NormalizePhone reduces a phone number to its digits with a single leading
// "+". Inbound webhook senders and stored targets are compared in this form.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}
