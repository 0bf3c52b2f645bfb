package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestCLIResolvesRemoteResource mirrors the end-to-end shape of
// original_source/tests/cli.rs: run the command against a mock server
// and a fresh cache dir, and assert the resolved path is printed to
// stdout.
func TestCLIResolvesRemoteResource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"fake-etag"`)
		if r.Method == http.MethodGet {
			w.Write([]byte("Hello, World!\n"))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--dir", dir,
		"--no-progress",
		"--max-backoff", "5ms",
		srv.URL,
	})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	got := strings.TrimSpace(out.String())
	if got == "" {
		t.Fatal("expected a resolved path on stdout")
	}
	if !strings.HasPrefix(got, dir) {
		t.Errorf("resolved path %q should live under cache dir %q", got, dir)
	}
}

func TestCLILocalFileReturnsOriginalPath(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dir", t.TempDir(), "main.go"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(out.String())
	if got != "main.go" {
		t.Errorf("got %q, want %q", got, "main.go")
	}
}
