package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/reqid"
)

// MiddlewareStartValidation decodes a StartRequest and rejects requests
// missing the url or savePath. Deeper validation happens in the service.
func MiddlewareStartValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req data.StartRequest
		if err := decodeJSONStrict(w, r, &req); err != nil {
			badBody(w, err)
			return
		}
		if req.URL == "" || req.SavePath == "" {
			badBody(w, errors.New("url and savePath are required"))
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyStart{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func MiddlewarePatchDesired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body patchBody
		if err := decodeJSONStrict(w, r, &body); err != nil {
			badBody(w, err)
			return
		}
		if body.DesiredStatus == "" {
			badBody(w, ErrDesiredStatusJSON)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPatch{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func badBody(w http.ResponseWriter, err error) {
	markErr(w, err)
	if errors.Is(err, ErrContentType) {
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
}

// Log writes one access log line per request.
func (dh *DownloadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		l := reqid.Logger(r.Context(), dh.l)
		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", time.Since(startTime).Milliseconds(),
			"bytes", rw.bytes,
		}
		if rw.err != nil {
			l.Error(rw.err.Error(), attrs...)
			return
		}
		l.Info("request", attrs...)
	})
}
