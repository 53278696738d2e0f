package mw

import (
	"crypto/subtle"
	"net/http"
)

const adminPasswordHeader = "X-Admin-Password"

// AdminAuth admits requests carrying password in the X-Admin-Password header
// or the password query parameter. An empty password admits nobody.
func AdminAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(adminPasswordHeader)
			if provided == "" {
				provided = r.URL.Query().Get("password")
			}
			if password == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(password)) != 1 {
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
