package auth

import "net/http"

// Header names carrying a one-time credential.
const (
	HeaderKey    = "X-API-KEY"
	HeaderSecret = "X-API-SECRET"
)

// Middleware gates a handler behind one-time credential redemption. Requests
// without a redeemable pair get 401.
func Middleware(broker *Broker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)
		secret := r.Header.Get(HeaderSecret)
		if !broker.Redeem(r.Context(), key, secret) {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
