package gateway

import (
	"encoding/json"
	"net/http"
)

// request is the Gateway's HTTP request envelope, per spec section 6's
// surface table: every handler reads data out of a nested "data" object
// rather than the top-level body.
type request struct {
	RequestServiceType string          `json:"request_service_type,omitempty"`
	Data               json.RawMessage `json:"data"`
}

// response is the Gateway's HTTP response envelope.
type response struct {
	ResponseStatusCode int    `json:"response_status_code"`
	Message            string `json:"message,omitempty"`
	Data               any    `json:"data,omitempty"`
}

func writeResponse(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{ResponseStatusCode: status, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeResponse(w, status, message, nil)
}

func writeOK(w http.ResponseWriter, data any) {
	writeResponse(w, http.StatusOK, "", data)
}

// decodeData unmarshals the request envelope's data field into dst,
// returning false (and an already-written 400) on malformed input.
func decodeData(w http.ResponseWriter, r *http.Request, dst any) bool {
	var env request
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	if len(env.Data) == 0 {
		writeError(w, http.StatusBadRequest, "missing data")
		return false
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed data")
		return false
	}
	return true
}
