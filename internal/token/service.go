package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/kvstore"
	"github.com/flicker-im/fabric/internal/rpc/statuspb"
)

const (
	tokenTTL       = 24 * time.Hour
	tokenKeyPrefix = "token:"
)

// claims is the JWT claim set from spec section 4.4:
// {sub=user_uuid, dev=device_id, iat, exp=iat+24h}.
type claims struct {
	Device string `json:"dev"`
	jwt.RegisteredClaims
}

// Service implements statuspb.TokenServiceServer.
type Service struct {
	store    kvstore.Store
	registry *Registry
	secret   []byte
	logger   *slog.Logger
}

var _ statuspb.TokenServiceServer = (*Service)(nil)

// NewService builds a TokenService signing with secret and selecting
// servers from registry.
func NewService(store kvstore.Store, registry *Registry, secret []byte, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, secret: secret, logger: logger}
}

func tokenKey(t string) string { return tokenKeyPrefix + t }

// GenerateToken signs a 24h JWT for (user_uuid, device_id), records it as
// active in the KV store, and selects a chat server for the session.
func (s *Service) GenerateToken(ctx context.Context, in *statuspb.GenerateTokenRequest) (*statuspb.GenerateTokenResponse, error) {
	if in.UserUUID == "" || in.ClientDeviceID == "" {
		return nil, fkerr.ErrMissingCredentials
	}

	now := time.Now()
	exp := now.Add(tokenTTL)
	c := claims{
		Device: in.ClientDeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.UserUUID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("token: sign: %w", err)
	}

	if err := s.store.Set(ctx, tokenKey(signed), in.UserUUID, tokenTTL); err != nil {
		return nil, err
	}

	server, ok := s.registry.SelectBest()
	if !ok {
		s.store.Del(ctx, tokenKey(signed))
		return nil, fkerr.ErrRPCUnavailable
	}

	return &statuspb.GenerateTokenResponse{
		Token:          signed,
		ExpiresAt:      exp.Unix(),
		ChatServerID:   server.ID,
		ChatServerHost: server.Host,
		ChatServerPort: server.Port,
		ChatServerZone: server.Zone,
	}, nil
}

// ValidateToken verifies signature and expiry, confirms the KV record is
// still present and maps to the claimed user, and confirms the device id
// in the claim matches the caller's.
func (s *Service) ValidateToken(ctx context.Context, in *statuspb.ValidateTokenRequest) (*statuspb.ValidateTokenResponse, error) {
	if in.Token == "" {
		return &statuspb.ValidateTokenResponse{Valid: false, Message: "missing token"}, nil
	}

	parsed, err := jwt.ParseWithClaims(in.Token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return &statuspb.ValidateTokenResponse{Valid: false, Message: "expired"}, nil
		}
		return &statuspb.ValidateTokenResponse{Valid: false, Message: "bad signature"}, nil
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return &statuspb.ValidateTokenResponse{Valid: false, Message: "malformed claims"}, nil
	}

	if c.Device != in.ClientDeviceID {
		return &statuspb.ValidateTokenResponse{Valid: false, Message: "device mismatch"}, nil
	}

	userUUID, err := s.store.Get(ctx, tokenKey(in.Token))
	if err != nil {
		if errors.Is(err, fkerr.ErrKeyNotFound) {
			return &statuspb.ValidateTokenResponse{Valid: false, Message: "revoked"}, nil
		}
		return nil, err
	}
	if userUUID != c.Subject {
		return &statuspb.ValidateTokenResponse{Valid: false, Message: "subject mismatch"}, nil
	}

	return &statuspb.ValidateTokenResponse{Valid: true, UserUUID: userUUID}, nil
}

// Revoke deletes the active-token record, per spec section 4.4's "Out of
// scope: RevokeToken — implementable as KvStore.del(token:<t>)" note.
func (s *Service) Revoke(ctx context.Context, tok string) error {
	return s.store.Del(ctx, tokenKey(tok))
}

// RunCleanupSweep scans token:* at interval and deletes entries that have
// already expired TTL-wise (a safety net, per spec section 4.4: "not a
// correctness dependency" since Redis TTL already expires them on its
// own; this catches keys that were somehow set without one).
func (s *Service) RunCleanupSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	keys, err := s.store.Scan(ctx, tokenKeyPrefix+"*")
	if err != nil {
		s.logger.Warn("token cleanup sweep failed", slog.Any("error", err))
		return
	}
	var swept int
	for _, k := range keys {
		// TTL surfaces "no expiry set" as ErrKeyNotFound (RedisStore treats
		// Redis's -1/-2 sentinels identically); that is exactly the stray
		// key this sweep exists to catch, per spec section 4.4's "safety
		// net against stray keys" note. Any other error leaves the key
		// alone for the next pass.
		_, err := s.store.TTL(ctx, k)
		if err == nil {
			continue
		}
		if !errors.Is(err, fkerr.ErrKeyNotFound) {
			continue
		}
		s.store.Del(ctx, k)
		swept++
	}
	if swept > 0 {
		s.logger.Debug("token cleanup sweep removed stray keys",
			slog.Int("count", swept), slog.String("prefix", strings.TrimSuffix(tokenKeyPrefix, ":")))
	}
}
