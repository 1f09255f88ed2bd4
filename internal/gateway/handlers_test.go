package gateway

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/kvstore"
	"github.com/flicker-im/fabric/internal/rpc/statuspb"
	"github.com/flicker-im/fabric/internal/user"
)

// memStore is a minimal in-memory kvstore.Store fake, mirroring the one in
// internal/token's own tests.
type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (m *memStore) expire(key string) bool {
	exp, ok := m.expires[key]
	if ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *memStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	v, ok := m.values[key]
	if !ok {
		return "", fkerr.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *memStore) CompareAndDelete(ctx context.Context, key, expected string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	v, ok := m.values[key]
	if !ok {
		return fkerr.ErrKeyNotFound
	}
	if v != expected {
		return fkerr.ErrValueMismatch
	}
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func (m *memStore) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	_, ok := m.values[key]
	return ok, nil
}

func (m *memStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expire(key)
	if _, ok := m.values[key]; !ok {
		return 0, fkerr.ErrKeyNotFound
	}
	exp, ok := m.expires[key]
	if !ok {
		return 0, fkerr.ErrKeyNotFound
	}
	return time.Until(exp), nil
}

func (m *memStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.values {
		out = append(out, k)
	}
	return out, nil
}

var _ kvstore.Store = (*memStore)(nil)

// fakeTokens is a TokenClient fake that always returns a canned response,
// or the configured error.
type fakeTokens struct {
	resp *statuspb.GenerateTokenResponse
	err  error
}

func (f fakeTokens) GenerateToken(ctx context.Context, in *statuspb.GenerateTokenRequest) (*statuspb.GenerateTokenResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func post(t *testing.T, handler http.Handler, path string, data any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(request{Data: mustJSON(t, data)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	return b
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var env response
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestGetVerifyCode(t *testing.T) {
	h := NewHandler(user.NewMapper(newFakeDB(&dbScript{})), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/get_verify_code", getVerifyCodeRequest{Email: "a@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = post(t, router, "/get_verify_code", getVerifyCodeRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing email: status = %d", rec.Code)
	}
}

func TestRegisterUserHappyPath(t *testing.T) {
	script := &dbScript{}
	script.push(queryStep{}) // FindByUsername: no rows
	script.push(queryStep{}) // FindByEmail: no rows
	script.push(execStep{rowsAffected: 1})

	store := newMemStore()
	h := NewHandler(user.NewMapper(newFakeDB(script)), store, fakeTokens{})
	router := NewRouter(h)

	code, err := h.codes.GenerateAndStoreCode(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("seed code: %v", err)
	}

	rec := post(t, router, "/register_user", registerUserRequest{
		Username:       "newuser",
		Email:          "new@example.com",
		HashedPassword: "clienthash",
		VerifyCode:     code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterUserDuplicateUsername(t *testing.T) {
	script := &dbScript{}
	script.push(queryStep{rows: userRow(1, "uuid-1", "taken", "taken@example.com", "digest")})

	h := NewHandler(user.NewMapper(newFakeDB(script)), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	code, _ := h.codes.GenerateAndStoreCode(context.Background(), "dup@example.com")
	rec := post(t, router, "/register_user", registerUserRequest{
		Username:       "taken",
		Email:          "dup@example.com",
		HashedPassword: "clienthash",
		VerifyCode:     code,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterUserBadVerifyCode(t *testing.T) {
	h := NewHandler(user.NewMapper(newFakeDB(&dbScript{})), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/register_user", registerUserRequest{
		Username:       "u",
		Email:          "e@example.com",
		HashedPassword: "h",
		VerifyCode:     "WRONG1",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLoginUserHappyPath(t *testing.T) {
	u, err := user.NewForRegistration("bob", "bob@example.com", "clienthash")
	if err != nil {
		t.Fatalf("build user: %v", err)
	}
	u.ID = 7
	u.UUID = "uuid-bob"

	script := &dbScript{}
	script.push(queryStep{rows: userRowFromUser(u)})

	tokens := fakeTokens{resp: &statuspb.GenerateTokenResponse{
		Token:          "jwt-token",
		ExpiresAt:      time.Now().Add(time.Hour).Unix(),
		ChatServerID:   "chat-1",
		ChatServerHost: "10.0.0.1",
		ChatServerPort: 9000,
		ChatServerZone: "us-east",
	}}
	h := NewHandler(user.NewMapper(newFakeDB(script)), newMemStore(), tokens)
	router := NewRouter(h)

	rec := post(t, router, "/login_user", loginUserRequest{
		Username:       "bob",
		HashedPassword: "clienthash",
		ClientDeviceID: "dev-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	env := decodeResponse(t, rec)
	data, _ := env.Data.(map[string]any)
	if data["token"] != "jwt-token" {
		t.Fatalf("token missing from response: %+v", data)
	}
}

func TestLoginUserWrongPassword(t *testing.T) {
	u, _ := user.NewForRegistration("bob", "bob@example.com", "clienthash")
	u.ID = 7
	u.UUID = "uuid-bob"

	script := &dbScript{}
	script.push(queryStep{rows: userRowFromUser(u)})

	h := NewHandler(user.NewMapper(newFakeDB(script)), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/login_user", loginUserRequest{
		Username:       "bob",
		HashedPassword: "not-the-right-hash",
		ClientDeviceID: "dev-1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLoginUserUnknownUsername(t *testing.T) {
	script := &dbScript{}
	script.push(queryStep{})

	h := NewHandler(user.NewMapper(newFakeDB(script)), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/login_user", loginUserRequest{
		Username:       "ghost",
		HashedPassword: "whatever",
		ClientDeviceID: "dev-1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLoginUserStatusServiceUnavailable(t *testing.T) {
	u, _ := user.NewForRegistration("bob", "bob@example.com", "clienthash")
	u.ID = 7
	u.UUID = "uuid-bob"

	script := &dbScript{}
	script.push(queryStep{rows: userRowFromUser(u)})

	h := NewHandler(user.NewMapper(newFakeDB(script)), newMemStore(), fakeTokens{err: fkerr.ErrRPCUnavailable})
	router := NewRouter(h)

	rec := post(t, router, "/login_user", loginUserRequest{
		Username:       "bob",
		HashedPassword: "clienthash",
		ClientDeviceID: "dev-1",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestResetPasswordTwoStepHandoff(t *testing.T) {
	u, _ := user.NewForRegistration("carol", "carol@example.com", "oldhash")
	u.ID = 3
	u.UUID = "uuid-carol"

	script := &dbScript{}
	script.push(queryStep{rows: userRowFromUser(u)}) // ResetPassword's FindByEmail
	script.push(execStep{rowsAffected: 1})           // UpdateFieldsByID

	store := newMemStore()
	h := NewHandler(user.NewMapper(newFakeDB(script)), store, fakeTokens{})
	router := NewRouter(h)

	code, _ := h.codes.GenerateAndStoreCode(context.Background(), "carol@example.com")
	rec := post(t, router, "/authenticate_reset_pwd", authenticateResetPwdRequest{
		Email:      "carol@example.com",
		VerifyCode: code,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticate status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = post(t, router, "/reset_password", resetPasswordRequest{
		Email:          "carol@example.com",
		HashedPassword: "newhash",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestResetPasswordWithoutAuthenticationIsRejected(t *testing.T) {
	h := NewHandler(user.NewMapper(newFakeDB(&dbScript{})), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/reset_password", resetPasswordRequest{
		Email:          "never-authenticated@example.com",
		HashedPassword: "newhash",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAuthenticateResetPwdExpiredCode(t *testing.T) {
	h := NewHandler(user.NewMapper(newFakeDB(&dbScript{})), newMemStore(), fakeTokens{})
	router := NewRouter(h)

	rec := post(t, router, "/authenticate_reset_pwd", authenticateResetPwdRequest{
		Email:      "nobody@example.com",
		VerifyCode: "ABC123",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func userRowFromUser(u user.User) []driver.Value {
	return []driver.Value{int64(u.ID), u.UUID, u.Username, u.Email, u.PasswordDigest, u.CreatedAt, nil}
}
