package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rentafacil/rentchat/internal/logger"
)

// apiError — тело ошибки в формате бэкенда маркетплейса: {"detail": "...", "code": "not_found"}.
type apiError struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	if status >= http.StatusInternalServerError {
		logger.Warnf("http %d: %s", status, detail)
	}
	writeJSON(w, status, apiError{Detail: detail, Code: errorCode(status)})
}

// errorCode: 404 -> "not_found", 429 -> "too_many_requests".
func errorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}

// queryRange читает неотрицательное число из query; пустое или битое значение даёт def, больше max — max.
func queryRange(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
