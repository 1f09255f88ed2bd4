package kvstore

import (
	"context"
	"errors"
	"testing"

	"github.com/flicker-im/fabric/internal/fkerr"
)

func TestGenerateAndStoreCodeIsIdempotent(t *testing.T) {
	svc := NewCodeService(newMemStore())
	ctx := context.Background()

	first, err := svc.GenerateAndStoreCode(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := svc.GenerateAndStoreCode(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if first != second {
		t.Fatalf("expected same code, got %q and %q", first, second)
	}
}

func TestVerifyCodeSingleUse(t *testing.T) {
	svc := NewCodeService(newMemStore())
	ctx := context.Background()

	code, err := svc.GenerateAndStoreCode(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := svc.VerifyCode(ctx, "a@x.com", code); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	err = svc.VerifyCode(ctx, "a@x.com", code)
	if !errors.Is(err, fkerr.ErrValueExpired) {
		t.Fatalf("expected ErrValueExpired on reuse, got %v", err)
	}
}

func TestVerifyCodeMismatch(t *testing.T) {
	svc := NewCodeService(newMemStore())
	ctx := context.Background()

	if _, err := svc.GenerateAndStoreCode(ctx, "a@x.com"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	err := svc.VerifyCode(ctx, "a@x.com", "WRONG1")
	if !errors.Is(err, fkerr.ErrValueMismatch) {
		t.Fatalf("expected ErrValueMismatch, got %v", err)
	}
}
