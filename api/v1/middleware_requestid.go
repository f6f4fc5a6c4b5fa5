package v1

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/NEXORA-Studios/NovaCL/internal/reqid"
)

// RequestID honors an incoming X-Request-ID or generates one, stores it in
// the request context and echoes it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(reqid.Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(reqid.Header, id)
		next.ServeHTTP(w, r.WithContext(reqid.With(r.Context(), id)))
	})
}
