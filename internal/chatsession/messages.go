package chatsession

// Wire body shapes for each frame.Type. These are intentionally separate
// from statuspb's messages: the chat wire protocol is JSON-over-length-
// prefixed-binary, not gRPC, and has its own (smaller) vocabulary.

type authRequestBody struct {
	Token          string `json:"token"`
	ClientDeviceID string `json:"client_device_id"`
}

type authResponseBody struct {
	Success  bool   `json:"success"`
	UserUUID string `json:"user_uuid,omitempty"`
	Message  string `json:"message,omitempty"`
}

type heartbeatBody struct {
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status"`
	Sequence  *int64 `json:"sequence,omitempty"`
}

// chatMessageBody is the CHAT_MESSAGE body, supplemented with an optional
// "to" field: the wire format never says how a session tells the server
// apart a broadcast from a directed message, but ChatServer needs that
// distinction to implement both send_to and broadcast. An empty To means
// broadcast to every other authenticated session.
type chatMessageBody struct {
	Content   string `json:"content"`
	Sender    string `json:"sender,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	To        string `json:"to,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}
