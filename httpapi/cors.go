package httpapi

import (
	"net/http"
	"strings"
)

var (
	corsMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodOptions,
	}
	corsHeaders = []string{"Content-Type", "X-Requested-With"}
)

// permissiveCORS lets any origin call the API. Preflight requests are
// answered directly.
func permissiveCORS(next http.Handler) http.Handler {
	methods := strings.Join(corsMethods, ", ")
	headers := strings.Join(corsHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
