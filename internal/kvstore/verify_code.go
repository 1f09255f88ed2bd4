package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flicker-im/fabric/internal/fkerr"
)

const (
	verifyCodeTTL    = 5 * time.Minute
	verifyCodePrefix = "verification_code:"
	tokenPrefix      = "token:"
)

// CodeService builds and checks single-use verification codes on top of a
// Store, per spec section 4.5.
type CodeService struct {
	store Store
}

// NewCodeService wraps a Store with the verification-code helpers.
func NewCodeService(store Store) *CodeService {
	return &CodeService{store: store}
}

func verifyCodeKey(email string) string {
	return verifyCodePrefix + email
}

// GenerateAndStoreCode is idempotent from the client's perspective: a call
// for an email with a still-live code returns that same code rather than
// minting a new one (testable property 10).
func (c *CodeService) GenerateAndStoreCode(ctx context.Context, email string) (string, error) {
	key := verifyCodeKey(email)

	existing, err := c.store.Get(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, fkerr.ErrKeyNotFound) {
		return "", err
	}

	code := newCode()
	if err := c.store.Set(ctx, key, code, verifyCodeTTL); err != nil {
		return "", err
	}
	return code, nil
}

// VerifyCode checks and atomically consumes a verification code (testable
// property 9): a correct, live code succeeds exactly once. The
// check-and-delete is a single Store.CompareAndDelete round trip, so two
// concurrent verify attempts for the same email+code can't both observe
// the code as live before either deletes it.
func (c *CodeService) VerifyCode(ctx context.Context, email, code string) error {
	key := verifyCodeKey(email)

	err := c.store.CompareAndDelete(ctx, key, code)
	if errors.Is(err, fkerr.ErrKeyNotFound) {
		return fkerr.ErrValueExpired
	}
	return err
}

// newCode mints a 6-character hex-uuid-prefixed code, per spec section 4.5.
func newCode() string {
	return strings.ToUpper(uuid.New().String()[:6])
}
