package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

type envelope map[string]any

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK writes data wrapped as {"data": ...}.
func OK(w http.ResponseWriter, data any) {
	Data(w, http.StatusOK, data)
}

func Data(w http.ResponseWriter, status int, data any) {
	JSON(w, status, envelope{"data": data})
}

// Error writes {"error": {"message": ..., "request_id": ..., "meta": ...}}.
func Error(ctx context.Context, w http.ResponseWriter, status int, msg string, meta map[string]any) {
	body := envelope{"message": msg}
	if id, ok := FromContext(ctx); ok {
		body["request_id"] = id
	}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	JSON(w, status, envelope{"error": body})
}

// ErrorBody is the decoded form of an Error response.
type ErrorBody struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

func (e ErrorBody) Error() string {
	if reason, ok := e.Meta["reason"].(string); ok && reason != "" {
		return e.Message + ": " + reason
	}
	return e.Message
}

// DecodeData reads a {"data": ...} body into dst.
func DecodeData(r io.Reader, dst any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("decode envelope: missing data")
	}
	return json.Unmarshal(env.Data, dst)
}

// DecodeError reads an {"error": ...} body. A body that is not one yields
// an ErrorBody carrying only the HTTP status text.
func DecodeError(status int, r io.Reader) ErrorBody {
	var env struct {
		Error ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil || env.Error.Message == "" {
		return ErrorBody{Message: http.StatusText(status)}
	}
	return env.Error
}
