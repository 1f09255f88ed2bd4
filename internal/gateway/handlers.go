// Package gateway implements the stateless HTTP front door from spec
// section 4 ("GatewayHandlers"): verify code, register, login, reset
// password. Grounded on the teacher's internal/handler/lp long-polling
// handler (internal/handler/lp/delivery.go) for the overall shape — a
// small struct holding its collaborators, one method per route, chi for
// routing, http.Error-style explicit status writes — generalized from
// long-polling event delivery to a synchronous request/response API.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/flicker-im/fabric/internal/fkerr"
	"github.com/flicker-im/fabric/internal/kvstore"
	"github.com/flicker-im/fabric/internal/mapper"
	"github.com/flicker-im/fabric/internal/rpc/statuspb"
	"github.com/flicker-im/fabric/internal/user"
)

// resetAuthPrefix namespaces the short-lived KV record that ties
// /authenticate_reset_pwd to /reset_password: the distilled spec names
// both endpoints but never says how the second call is told the first
// one succeeded. A code is single-use (CodeService.VerifyCode deletes it
// on match), so resubmitting it to /reset_password would always fail;
// this repo resolves the gap by minting a short-TTL authorization record
// keyed by email on successful verification, exactly the same KV-with-TTL
// pattern CodeService already uses for codes themselves.
const resetAuthPrefix = "reset_auth:"
const resetAuthTTL = 5 * time.Minute

// Handler holds every collaborator the five HTTP routes need.
type Handler struct {
	users  *user.Mapper
	codes  *kvstore.CodeService
	store  kvstore.Store
	tokens TokenClient
}

// NewHandler builds a Handler.
func NewHandler(users *user.Mapper, store kvstore.Store, tokens TokenClient) *Handler {
	return &Handler{
		users:  users,
		codes:  kvstore.NewCodeService(store),
		store:  store,
		tokens: tokens,
	}
}

type getVerifyCodeRequest struct {
	Email      string `json:"email"`
	VerifyType string `json:"verify_type"`
}

// GetVerifyCode handles POST /get_verify_code.
func (h *Handler) GetVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req getVerifyCodeRequest
	if !decodeData(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	code, err := h.codes.GenerateAndStoreCode(r.Context(), req.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeOK(w, map[string]string{"verify_code": code})
}

type registerUserRequest struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	HashedPassword string `json:"hashed_password"`
	VerifyCode     string `json:"verify_code"`
}

// RegisterUser handles POST /register_user.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decodeData(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" || req.HashedPassword == "" || req.VerifyCode == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	ctx := r.Context()
	if err := h.codes.VerifyCode(ctx, req.Email, req.VerifyCode); err != nil {
		writeDomainError(w, err)
		return
	}

	if _, err := user.FindByUsername(ctx, h.users, req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already exists")
		return
	} else if !errors.Is(err, fkerr.ErrNotFound) {
		writeDomainError(w, err)
		return
	}
	if _, err := user.FindByEmail(ctx, h.users, req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already exists")
		return
	} else if !errors.Is(err, fkerr.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	u, err := user.NewForRegistration(req.Username, req.Email, req.HashedPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := h.users.Insert(ctx, u); err != nil {
		writeDomainError(w, err)
		return
	}

	writeOK(w, nil)
}

type loginUserRequest struct {
	Username       string `json:"username"`
	HashedPassword string `json:"hashed_password"`
	ClientDeviceID string `json:"client_device_id"`
}

// LoginUser handles POST /login_user.
func (h *Handler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req loginUserRequest
	if !decodeData(w, r, &req) {
		return
	}
	if req.Username == "" || req.HashedPassword == "" || req.ClientDeviceID == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	ctx := r.Context()
	u, err := user.FindByUsername(ctx, h.users, req.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := u.CheckPassword(req.HashedPassword); err != nil {
		writeDomainError(w, err)
		return
	}

	genRes, err := h.tokens.GenerateToken(ctx, &statuspb.GenerateTokenRequest{
		UserUUID:       u.UUID,
		ClientDeviceID: req.ClientDeviceID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeOK(w, map[string]any{
		"user_uuid":        u.UUID,
		"token":            genRes.Token,
		"expires_at":       genRes.ExpiresAt,
		"chat_server_host": genRes.ChatServerHost,
		"chat_server_port": genRes.ChatServerPort,
		"chat_server_id":   genRes.ChatServerID,
		"chat_server_zone": genRes.ChatServerZone,
	})
}

type authenticateResetPwdRequest struct {
	Email      string `json:"email"`
	VerifyCode string `json:"verify_code"`
}

// AuthenticateResetPwd handles POST /authenticate_reset_pwd.
func (h *Handler) AuthenticateResetPwd(w http.ResponseWriter, r *http.Request) {
	var req authenticateResetPwdRequest
	if !decodeData(w, r, &req) {
		return
	}
	if req.Email == "" || req.VerifyCode == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	ctx := r.Context()
	if err := h.codes.VerifyCode(ctx, req.Email, req.VerifyCode); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.store.Set(ctx, resetAuthPrefix+req.Email, "1", resetAuthTTL); err != nil {
		writeDomainError(w, err)
		return
	}

	writeOK(w, nil)
}

type resetPasswordRequest struct {
	Email          string `json:"email"`
	HashedPassword string `json:"hashed_password"`
}

// ResetPassword handles POST /reset_password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeData(w, r, &req) {
		return
	}
	if req.Email == "" || req.HashedPassword == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	ctx := r.Context()
	authKey := resetAuthPrefix + req.Email
	if _, err := h.store.Get(ctx, authKey); err != nil {
		writeDomainError(w, err)
		return
	}

	u, err := user.FindByEmail(ctx, h.users, req.Email)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	digest, err := user.NewDigest(req.HashedPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := h.users.UpdateFieldsByID(ctx, u.ID, mapper.Set("password_digest", digest)); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = h.store.Del(ctx, authKey)
	writeOK(w, nil)
}
