package reqid

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithFrom(t *testing.T) {
	if _, ok := From(context.Background()); ok {
		t.Fatalf("empty context must not carry an id")
	}
	if _, ok := From(With(context.Background(), "")); ok {
		t.Fatalf("empty id must be reported as absent")
	}
	id, ok := From(With(nil, "abc")) //nolint:staticcheck // nil context is accepted
	if !ok || id != "abc" {
		t.Fatalf("got %q %v", id, ok)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(With(context.Background(), "req-1"), base).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Fatalf("missing request id in %q", buf.String())
	}
	buf.Reset()
	Logger(context.Background(), base).Info("hello")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("unexpected request id in %q", buf.String())
	}
}
