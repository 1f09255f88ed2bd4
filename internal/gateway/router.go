package gateway

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the five routes from spec section 6's Gateway HTTP
// surface onto h.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post("/get_verify_code", h.GetVerifyCode)
	r.Post("/register_user", h.RegisterUser)
	r.Post("/login_user", h.LoginUser)
	r.Post("/authenticate_reset_pwd", h.AuthenticateResetPwd)
	r.Post("/reset_password", h.ResetPassword)

	return r
}
