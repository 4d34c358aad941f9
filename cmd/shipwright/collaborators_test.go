package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellCommandRunner_CapturesOutputAndExitCode(t *testing.T) {
	var r shellCommandRunner
	out, code, err := r.Run(context.Background(), t.TempDir(), "echo hello && exit 0", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "hello")
}

func TestShellCommandRunner_NonZeroExitIsNotAnError(t *testing.T) {
	var r shellCommandRunner
	_, code, err := r.Run(context.Background(), t.TempDir(), "exit 3", time.Second)
	require.NoError(t, err, "a failing command surfaces through exitCode, not err")
	assert.Equal(t, 3, code)
}

func TestShellCommandRunner_TimeoutReturnsDistinctExitCode(t *testing.T) {
	var r shellCommandRunner
	_, code, err := r.Run(context.Background(), t.TempDir(), "sleep 2", 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestHTTPHealthProber_TreatsOnly2xxAsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newHTTPHealthProber()
	healthy, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, healthy)
}

func TestHTTPHealthProber_2xxIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newHTTPHealthProber()
	healthy, err := p.Probe(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, healthy)
}

func TestHTTPPRClient_CreatePR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pulls", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "42"})
	}))
	defer srv.Close()

	c := newHTTPPRClient(srv.URL, "tok")
	id, err := c.CreatePR(context.Background(), "feature/x", "main", "title", "body", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestHTTPPRClient_WaitForCI_SucceedsOnSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ci_status": "success"})
	}))
	defer srv.Close()

	c := newHTTPPRClient(srv.URL, "")
	ok, err := c.WaitForCI(context.Background(), "1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPPRClient_WaitForCI_FailureStatusReturnsFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"ci_status": "failure"})
	}))
	defer srv.Close()

	c := newHTTPPRClient(srv.URL, "")
	ok, err := c.WaitForCI(context.Background(), "1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPPRClient_NonSuccessStatusCodeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newHTTPPRClient(srv.URL, "")
	err := c.Merge(context.Background(), "1", "squash", true)
	assert.Error(t, err)
}

func TestAIReviewer_ParsesOnlyRecognizedSeverities(t *testing.T) {
	script := writeFakeAIScript(t, "critical: bad thing\nnotasev: ignored\nbug: minor\n")
	ai := &cliAIWorker{Command: script}
	r := &aiReviewer{AI: ai}

	findings, err := r.Review(context.Background(), "diff --git a/x b/x")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "critical", findings[0].Severity)
	assert.Equal(t, "bug", findings[1].Severity)
}

// writeFakeAIScript writes an executable shell script that ignores its
// arguments and prints body, standing in for the real AI CLI subprocess so
// aiReviewer's output-parsing logic can be exercised directly.
func writeFakeAIScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ai.sh")
	script := "#!/bin/sh\ncat <<'EOF'\n" + body + "EOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}
