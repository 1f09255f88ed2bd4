package gateway

import (
	"context"

	"github.com/flicker-im/fabric/internal/rpc/statuspb"
	"github.com/flicker-im/fabric/internal/rpcstub"
)

// TokenClient is the slice of TokenService the Gateway actually calls:
// login needs GenerateToken only (spec section 9's open question notes
// AuthenticateLogin is never exercised by Gateway, which verifies
// passwords locally with bcrypt). Kept as an interface so handler tests
// can supply a fake instead of dialing gRPC.
type TokenClient interface {
	GenerateToken(ctx context.Context, in *statuspb.GenerateTokenRequest) (*statuspb.GenerateTokenResponse, error)
}

// stubPoolClient adapts a round-robin *rpcstub.StubPool to TokenClient,
// picking a fresh stub on every call.
type stubPoolClient struct {
	pool *rpcstub.StubPool
}

// NewTokenClient wraps pool as a TokenClient.
func NewTokenClient(pool *rpcstub.StubPool) TokenClient {
	return stubPoolClient{pool: pool}
}

func (c stubPoolClient) GenerateToken(ctx context.Context, in *statuspb.GenerateTokenRequest) (*statuspb.GenerateTokenResponse, error) {
	return c.pool.Next().GenerateToken(ctx, in)
}
