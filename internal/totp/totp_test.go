package totp

import (
	"strings"
	"testing"
	"time"

	ptotp "github.com/pquerna/otp/totp"
)

func TestNewEnrollmentProducesProvisioningURI(t *testing.T) {
	e, err := NewEnrollment("user@example.com")
	if err != nil {
		t.Fatalf("new enrollment: %v", err)
	}
	if e.Secret == "" {
		t.Fatalf("empty secret")
	}
	if !strings.HasPrefix(e.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", e.ProvisioningURI)
	}
	if !strings.Contains(e.ProvisioningURI, "DarkAuth") {
		t.Fatalf("provisioning uri missing issuer: %q", e.ProvisioningURI)
	}
}

func TestValidateAcceptsFreshCode(t *testing.T) {
	e, err := NewEnrollment("user@example.com")
	if err != nil {
		t.Fatalf("new enrollment: %v", err)
	}
	code, err := ptotp.GenerateCode(e.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if !Validate(code, e.Secret) {
		t.Fatalf("freshly generated code rejected")
	}
}

func TestValidateAcceptsOneStepOfDrift(t *testing.T) {
	e, _ := NewEnrollment("user@example.com")
	code, err := ptotp.GenerateCode(e.Secret, time.Now().Add(-30*time.Second))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if !Validate(code, e.Secret) {
		t.Fatalf("previous-step code rejected despite drift window")
	}
}

func TestValidateRejectsStaleCode(t *testing.T) {
	e, _ := NewEnrollment("user@example.com")
	code, err := ptotp.GenerateCode(e.Secret, time.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if Validate(code, e.Secret) {
		t.Fatalf("five-minute-old code accepted")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	e, _ := NewEnrollment("user@example.com")
	if Validate("000000", e.Secret) && Validate("999999", e.Secret) {
		t.Fatalf("both fixed codes accepted, validation is broken")
	}
	if Validate("abcdef", e.Secret) {
		t.Fatalf("non-numeric code accepted")
	}
}

func TestBackupCodesShapeAndHashes(t *testing.T) {
	plaintext, hashes, err := BackupCodes()
	if err != nil {
		t.Fatalf("backup codes: %v", err)
	}
	if len(plaintext) != 10 || len(hashes) != 10 {
		t.Fatalf("expected 10 codes, got %d/%d", len(plaintext), len(hashes))
	}
	for i, code := range plaintext {
		if len(code) != 9 || code[4] != '-' {
			t.Fatalf("code %d has unexpected format %q", i, code)
		}
		idx, ok := MatchBackupCode(code, hashes)
		if !ok {
			t.Fatalf("code %d does not match its own hash set", i)
		}
		if idx != i {
			// Random codes can collide in principle but the formatted
			// alphabet makes that vanishingly unlikely in 10 draws.
			t.Fatalf("code %d matched hash %d", i, idx)
		}
	}
}

func TestMatchBackupCodeRejectsUnknownCode(t *testing.T) {
	_, hashes, err := BackupCodes()
	if err != nil {
		t.Fatalf("backup codes: %v", err)
	}
	if _, ok := MatchBackupCode("AAAA-AAAA", hashes); ok {
		t.Fatalf("unknown code matched")
	}
}

func TestMatchBackupCodeAfterConsumption(t *testing.T) {
	plaintext, hashes, err := BackupCodes()
	if err != nil {
		t.Fatalf("backup codes: %v", err)
	}
	idx, ok := MatchBackupCode(plaintext[3], hashes)
	if !ok {
		t.Fatalf("code did not match before consumption")
	}
	remaining := append(hashes[:idx], hashes[idx+1:]...)
	if _, ok := MatchBackupCode(plaintext[3], remaining); ok {
		t.Fatalf("consumed code still matches")
	}
}
