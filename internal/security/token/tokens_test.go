package tokens

import (
	"strings"
	"testing"
)

func TestNewCodec_RequiresSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewCodec(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewCodec("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
	if _, err := NewCodec("s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCodec_DomainsDoNotCollide(t *testing.T) {
	t.Parallel()
	c, err := NewCodec("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	const in = "same-input"
	hashes := []string{
		c.HashSessionToken(in),
		c.HashChallengeToken(in),
		c.HashOTP(in),
		c.HashBackupCode(in),
		c.HashContext(in),
	}
	seen := map[string]bool{}
	for _, h := range hashes {
		if h == "" {
			t.Fatal("empty hash")
		}
		if seen[h] {
			t.Fatalf("domain collision: %q", h)
		}
		seen[h] = true
	}
}

func TestCodec_Deterministic(t *testing.T) {
	t.Parallel()
	a, _ := NewCodec("s3cret")
	b, _ := NewCodec("s3cret")
	if a.HashSessionToken("tok") != b.HashSessionToken("tok") {
		t.Fatal("same secret must produce same hash")
	}
	other, _ := NewCodec("otro")
	if a.HashSessionToken("tok") == other.HashSessionToken("tok") {
		t.Fatal("different secret must produce different hash")
	}
}

func TestHashBackupCode_Normalizes(t *testing.T) {
	t.Parallel()
	c, _ := NewCodec("s3cret")
	// Con o sin guiones, mayúsculas o minúsculas: mismo hash.
	if c.HashBackupCode("7kq2-mw4h") != c.HashBackupCode("7KQ2MW4H") {
		t.Fatal("normalization mismatch")
	}
}

func TestGenerateOTP(t *testing.T) {
	t.Parallel()
	for i := 0; i < 50; i++ {
		code, err := GenerateOTP(6)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 6 {
			t.Fatalf("want 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in otp: %q", code)
			}
		}
	}
	if _, err := GenerateOTP(0); err == nil {
		t.Fatal("expected error for zero digits")
	}
}

func TestGenerateBackupCode(t *testing.T) {
	t.Parallel()
	code, err := GenerateBackupCode(8)
	if err != nil {
		t.Fatal(err)
	}
	// 8 chars agrupados de a 4: XXXX-XXXX
	if len(code) != 9 || code[4] != '-' {
		t.Fatalf("unexpected format: %q", code)
	}
	for _, r := range strings.ReplaceAll(code, "-", "") {
		if !strings.ContainsRune(backupAlphabet, r) {
			t.Fatalf("char outside alphabet: %q", code)
		}
	}

	odd, err := GenerateBackupCode(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(odd) != 7 || strings.Contains(odd, "-") {
		t.Fatalf("unexpected format for odd length: %q", odd)
	}
}

func TestGenerateOpaqueToken_Unique(t *testing.T) {
	t.Parallel()
	a, err := GenerateOpaqueToken(32)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateOpaqueToken(32)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two random tokens must differ")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()
	if !Equal("abc", "abc") {
		t.Fatal("equal strings")
	}
	if Equal("abc", "abd") || Equal("abc", "ab") || Equal("", "a") {
		t.Fatal("unequal strings reported equal")
	}
}
