package v1

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/reqid"
	"github.com/NEXORA-Studios/NovaCL/internal/service"
)

// DownloadHandler serves the /v1/downloads resource.
type DownloadHandler struct {
	l   *slog.Logger
	svc service.Download
}

type patchBody struct {
	DesiredStatus data.DownloadStatus `json:"desiredStatus"`
}

type idBody struct {
	ID string `json:"id"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *rwLogger) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets the events endpoint upgrade to a websocket through the
// access log wrapper.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyStart struct{}
type ctxKeyPatch struct{}

func NewDownloadHandler(l *slog.Logger, svc service.Download) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	list, err := dh.svc.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []data.TaskProgress{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	d, err := dh.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (dh *DownloadHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := dh.svc.Progress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// AddDownload answers 201 for a new task and 200 when an identical
// in-flight task was returned instead.
func (dh *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	req, ok := r.Context().Value(ctxKeyStart{}).(data.StartRequest)
	if !ok {
		writeError(w, ErrStartRequestCtx)
		return
	}

	dl, created, err := dh.svc.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	reqid.Logger(r.Context(), dh.l).Debug("download accepted", "id", dl.ID, "created", created)
	writeJSON(w, code, idBody{ID: dl.ID})
}

func (dh *DownloadHandler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	body, ok := r.Context().Value(ctxKeyPatch{}).(patchBody)
	if !ok || body.DesiredStatus == "" {
		writeError(w, ErrDesiredStatus)
		return
	}

	updated, err := dh.svc.UpdateDesiredStatus(r.Context(), mux.Vars(r)["id"], body.DesiredStatus)
	if errors.Is(err, data.ErrBadStatus) {
		markErr(w, err)
		http.Error(w, "invalid desiredStatus (allowed: downloading|paused|cancelled)", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (dh *DownloadHandler) Pause(w http.ResponseWriter, r *http.Request) {
	dh.control(w, r, dh.svc.Pause)
}

func (dh *DownloadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	dh.control(w, r, dh.svc.Resume)
}

func (dh *DownloadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	dh.control(w, r, dh.svc.Cancel)
}

// DeleteDownload purges a finished task's record.
func (dh *DownloadHandler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := dh.svc.Purge(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (dh *DownloadHandler) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	if err := op(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
