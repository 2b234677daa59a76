package token

import (
	"errors"
	"testing"
	"time"

	"github.com/filedepot/filedepot/internal/errs"
)

func TestGenerateAndVerify(t *testing.T) {
	issuer := NewIssuer("test-secret", 10*time.Minute)

	signed, err := issuer.Generate(42)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	fileID, err := issuer.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if fileID != 42 {
		t.Errorf("fileID = %d, want 42", fileID)
	}
}

func TestVerifyExpired(t *testing.T) {
	issuer := NewIssuer("test-secret", -time.Minute)

	signed, err := issuer.Generate(7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = issuer.Verify(signed)
	if !errors.Is(err, errs.ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	issuer := NewIssuer("test-secret", 10*time.Minute)

	signed, err := issuer.Generate(7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tampered := signed[:len(signed)-2] + "xx"
	if _, err := issuer.Verify(tampered); !errors.Is(err, errs.ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	issuer := NewIssuer("secret-a", 10*time.Minute)
	other := NewIssuer("secret-b", 10*time.Minute)

	signed, err := issuer.Generate(7)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := other.Verify(signed); !errors.Is(err, errs.ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	issuer := NewIssuer("test-secret", 10*time.Minute)
	if _, err := issuer.Verify("not-a-token"); !errors.Is(err, errs.ErrTokenInvalid) {
		t.Errorf("err = %v, want ErrTokenInvalid", err)
	}
}
