package v1

import (
	"encoding/json"
	"net/http"
	"strings"
)

const maxBodyBytes = 1 << 20

// decodeJSONStrict validates an optional Content-Type, enforces a max body
// size and decodes JSON into dst while disallowing unknown fields. It
// returns ErrContentType when the Content-Type header is present but not
// acceptable.
func decodeJSONStrict(w http.ResponseWriter, r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return ErrContentType
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		markErr(w, err)
	}
}
