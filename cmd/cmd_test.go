package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/downloader"
	"github.com/NEXORA-Studios/NovaCL/internal/repo"
	"github.com/NEXORA-Studios/NovaCL/internal/router"
	"github.com/NEXORA-Studios/NovaCL/internal/service"
)

func TestBar(t *testing.T) {
	tests := []struct {
		name string
		p    data.Progress
		want string
	}{
		{"half", data.Progress{Total: 100, Downloaded: 50}, "[" + strings.Repeat("=", 15) + strings.Repeat(" ", 15) + "]"},
		{"unknown", data.Progress{Total: data.UnknownSize, Downloaded: 10}, "[" + strings.Repeat("?", barWidth) + "]"},
		{"unknown done", data.Progress{Total: data.UnknownSize, Status: data.StatusCompleted}, "[" + strings.Repeat("=", barWidth) + "]"},
		{"overflow clamps", data.Progress{Total: 10, Downloaded: 20}, "[" + strings.Repeat("=", barWidth) + "]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bar(tt.p); got != tt.want {
				t.Fatalf("bar = %q want %q", got, tt.want)
			}
		})
	}
}

func TestProgressLine(t *testing.T) {
	line := progressLine("a.bin", data.Progress{Total: 2048, Downloaded: 1024, Speed: 512, ETA: 2, Status: data.StatusDownloading})
	for _, want := range []string{"a.bin", "50.0%", "1.00 KiB/2.00 KiB", "512 B/s", "ETA 2s", "downloading"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	failed := progressLine("a.bin", data.Progress{Total: data.UnknownSize, Status: data.StatusFailed, Error: "boom"})
	if !strings.Contains(failed, "boom") || !strings.Contains(failed, "?") {
		t.Fatalf("failed line %q", failed)
	}
}

func TestRemoteCommands(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewDownload(repo.NewInMemoryDownloadRepo(), downloader.NewNoopDownloader(logger), service.Options{Logger: logger})
	srv := httptest.NewServer(router.New(logger, svc, router.Options{Token: "tok"}))
	defer srv.Close()
	t.Setenv("NOVACL_SERVER", "")
	t.Setenv("NOVACL_API_TOKEN", "")

	run := func(args ...string) (string, error) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs(append([]string{"--server", srv.URL, "--token", "tok"}, args...))
		err := root.Execute()
		return out.String(), err
	}

	out, err := run("add", "http://example.com/pkg.tar", "-o", t.TempDir(), "-n", "2")
	if err != nil || !strings.Contains(out, "added ") {
		t.Fatalf("add: %q %v", out, err)
	}
	id := strings.TrimSpace(out[strings.LastIndex(out, "added ")+len("added "):])

	if out, err = run("ls"); err != nil || !strings.Contains(out, id) {
		t.Fatalf("ls: %q %v", out, err)
	}
	if out, err = run("status", id); err != nil || !strings.Contains(out, "pkg.tar") {
		t.Fatalf("status: %q %v", out, err)
	}
	if out, err = run("pause", id); err != nil || !strings.Contains(out, "pause "+id) {
		t.Fatalf("pause: %q %v", out, err)
	}
	if _, err = run("pause", "missing"); err == nil {
		t.Fatalf("expected error pausing unknown id")
	}
	if out, err = run("cancel", id); err != nil {
		t.Fatalf("cancel: %q %v", out, err)
	}
	if out, err = run("ls"); err != nil || !strings.Contains(out, "no downloads") {
		t.Fatalf("ls after cancel: %q %v", out, err)
	}
}
