// Package totp implements TOTP enrollment/validation (RFC 6238, SHA-1,
// 30-second step, 6 digits, ±1 step drift) and single-use backup codes.
package totp

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/puzed/darkauth-sub006/internal/cryptoutil"
)

const (
	issuer          = "DarkAuth"
	digits          = otp.DigitsSix
	period          = 30
	skew            = 1
	backupCodeCount = 10
)

// Enrollment is the result of generating a new TOTP secret for a user,
// before it has been confirmed with a valid code.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// NewEnrollment generates a fresh TOTP secret for accountName.
func NewEnrollment(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      period,
		Digits:      digits,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// Validate checks code against secret at the current time, allowing ±1 step
// of clock drift.
func Validate(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// BackupCodes generates backupCodeCount single-use recovery codes and their
// SHA-256 hashes for storage; the plaintext codes are returned exactly once.
func BackupCodes() (plaintext []string, hashes [][]byte, err error) {
	plaintext = make([]string, backupCodeCount)
	hashes = make([][]byte, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw, genErr := cryptoutil.RandomBytes(5)
		if genErr != nil {
			return nil, nil, genErr
		}
		code := formatBackupCode(raw)
		plaintext[i] = code
		hashes[i] = HashBackupCode(code)
	}
	return plaintext, hashes, nil
}

// HashBackupCode hashes a single backup code for constant-time comparison
// against stored hashes; backup codes are low-entropy by design (human
// copyable) so a plain SHA-256 keyed by nothing is sufficient since they are
// single-use and rate-limited, not a standalone credential.
func HashBackupCode(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

// MatchBackupCode reports whether code matches any hash in stored, in
// constant time per comparison.
func MatchBackupCode(code string, stored [][]byte) (int, bool) {
	h := HashBackupCode(code)
	for i, candidate := range stored {
		if cryptoutil.ConstantTimeEqual(h, candidate) {
			return i, true
		}
	}
	return -1, false
}

func formatBackupCode(raw []byte) string {
	// 5 random bytes map onto 8 characters of a 32-symbol alphabet with no
	// lookalike characters (0/O and 1/I excluded).
	const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = alphabet[v&31]
		v >>= 5
	}
	return fmt.Sprintf("%s-%s", out[:4], out[4:])
}
