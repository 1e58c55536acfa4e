package authtoken

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/agent-keeper/internal/errs"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestIssueVerify(t *testing.T) {
	t.Parallel()
	iss := NewIssuer(testKey, time.Hour)

	tok, exp, err := iss.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if exp.IsZero() {
		t.Fatalf("expiry must be set when ttl > 0")
	}
	id, err := iss.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id == "" {
		t.Fatalf("token id must be set")
	}

	other, _, _ := iss.Issue()
	if other == tok {
		t.Fatalf("tokens must carry distinct ids")
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()
	iss := NewIssuer(testKey, time.Minute)
	good, _, err := iss.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	expired := NewIssuer(testKey, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.Issue()

	wrongSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "someone"}).SignedString(testKey)
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: Subject}).SignedString(testKey)

	cases := map[string]string{
		"garbage":     "not-a-token",
		"other key":   mustIssue(t, NewIssuer([]byte("another-key-another-key-another!!"), time.Minute)),
		"expired":     old,
		"subject":     wrongSub,
		"algorithm":   wrongAlg,
		"tampered":    good[:len(good)-2] + "xx",
		"empty token": "",
	}
	for name, tok := range cases {
		if _, err := iss.Verify(tok); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("%s: want ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestIssue_NoExpiry(t *testing.T) {
	t.Parallel()
	iss := NewIssuer(testKey, 0)
	tok, exp, err := iss.Issue()
	if err != nil || !exp.IsZero() {
		t.Fatalf("Issue = %v, %v", exp, err)
	}
	if _, err := iss.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, _, err := NewIssuer(nil, 0).Issue(); err == nil {
		t.Fatalf("want error for empty key")
	}
}

func mustIssue(t *testing.T, iss *Issuer) string {
	t.Helper()
	tok, _, err := iss.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}
