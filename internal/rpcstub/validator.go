package rpcstub

import (
	"context"

	"github.com/flicker-im/fabric/internal/rpc/statuspb"
)

// Validator adapts a StubPool to the (userUUID string, ok bool, err error)
// shape internal/chatsession.TokenValidator expects, since TokenStub's own
// ValidateToken returns a *statuspb.ValidateTokenResponse instead — Go's
// structural interfaces can't bridge that return-shape mismatch on their
// own.
type Validator struct {
	Pool *StubPool
}

// ValidateToken calls the Status process's TokenService, picking a fresh
// stub from the pool on every call.
func (v Validator) ValidateToken(ctx context.Context, token, deviceID string) (string, bool, error) {
	res, err := v.Pool.Next().ValidateToken(ctx, &statuspb.ValidateTokenRequest{
		Token:          token,
		ClientDeviceID: deviceID,
	})
	if err != nil {
		return "", false, err
	}
	if !res.Valid {
		return "", false, nil
	}
	return res.UserUUID, true, nil
}
