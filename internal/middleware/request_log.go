package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rentafacil/rentchat/internal/logger"
)

// RequestLog логирует method, path, статус и время выполнения запроса.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrap := wrapWriter(w)
		start := time.Now()
		next.ServeHTTP(wrap, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+strconv.Itoa(wrap.status), start)
	})
}
