package response

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON shape of every handler reply. Code is a stable
// machine-readable string set on errors so clients can branch without
// parsing messages; Data carries the payload on success.
type Envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// JSON writes a success envelope.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Envelope{Status: "success", Data: data})
}

// Error writes an error envelope with a message only. Used for request
// shape problems that have no taxonomy code.
func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, Envelope{Status: "error", Message: msg})
}

// ErrorCode writes an error envelope carrying a taxonomy code.
func ErrorCode(w http.ResponseWriter, status int, code, msg string) {
	write(w, status, Envelope{Status: "error", Code: code, Message: msg})
}
