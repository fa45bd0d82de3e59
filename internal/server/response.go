package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// respond writes the API's JSON envelope. Empty-string extras are dropped so
// clients never see placeholder values.
func (s *Server) respond(w http.ResponseWriter, code int, message string, isErr bool, extra map[string]any) {
	body := map[string]any{
		"status":  "success",
		"message": message,
	}
	if isErr {
		body["status"] = "error"
	}
	for k, v := range extra {
		if str, ok := v.(string); ok && str == "" {
			continue
		}
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) success(w http.ResponseWriter, message string, extra map[string]any) {
	s.respond(w, http.StatusOK, message, false, extra)
}

func (s *Server) failure(w http.ResponseWriter, code int, message string, info string) {
	extra := map[string]any{}
	if info != "" {
		extra["info"] = info
	}
	s.respond(w, code, message, true, extra)
}

// timeString renders an optional timestamp, empty when unset.
func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
