package statuspb

// GenerateTokenRequest is issued by the Gateway after a successful
// password check during login.
type GenerateTokenRequest struct {
	UserUUID       string `json:"user_uuid"`
	ClientDeviceID string `json:"client_device_id"`
}

// GenerateTokenResponse carries the issued token and the chat server the
// caller was assigned to, per spec section 6's /login_user response
// shape.
type GenerateTokenResponse struct {
	Token          string `json:"token"`
	ExpiresAt      int64  `json:"expires_at"`
	ChatServerID   string `json:"chat_server_id"`
	ChatServerHost string `json:"chat_server_host"`
	ChatServerPort int32  `json:"chat_server_port"`
	ChatServerZone string `json:"chat_server_zone"`
}

// ValidateTokenRequest is issued by a ChatSession during the AUTH
// handshake.
type ValidateTokenRequest struct {
	Token          string `json:"token"`
	ClientDeviceID string `json:"client_device_id"`
}

// ValidateTokenResponse reports whether the token is still active and, if
// so, the user it authenticates.
type ValidateTokenResponse struct {
	Valid    bool   `json:"valid"`
	UserUUID string `json:"user_uuid,omitempty"`
	Message  string `json:"message,omitempty"`
}
