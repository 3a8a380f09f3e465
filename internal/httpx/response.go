package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ErrorResponse is the uniform error envelope: a machine-readable code in
// Error and optional structured details (field violations, identifiers).
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// JSON writes payload with the given status. Marshalling happens before the
// first byte hits the wire; a payload that cannot encode yields a 500 with
// a stable body instead of truncated JSON.
func JSON(w http.ResponseWriter, status int, payload any) {
	body := []byte("null")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func JSONError(w http.ResponseWriter, status int, code string, details any) {
	JSON(w, status, ErrorResponse{Error: code, Details: details})
}

// PDF streams a document as an attachment download.
func PDF(w http.ResponseWriter, filename string, size int64, body io.Reader) {
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		// connection gone mid-stream; headers already sent
		_ = err
	}
}
