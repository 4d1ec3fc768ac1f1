// Package auth guards the elevated endpoints (worker trigger, DLQ admin,
// operator seeding) with static bearer credentials from the daemon config.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Require wraps a handler so it only runs when the request carries a
// bearer token matching one of the accepted tokens. Empty accepted tokens
// are ignored; if none are configured the endpoint is effectively disabled.
func Require(next http.HandlerFunc, tokens ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := bearerToken(r)
		if presented != "" {
			for _, tok := range tokens {
				if tok == "" {
					continue
				}
				if subtle.ConstantTimeCompare([]byte(presented), []byte(tok)) == 1 {
					next(w, r)
					return
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="burstq"`)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized","message":"valid bearer credential required"}`))
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
