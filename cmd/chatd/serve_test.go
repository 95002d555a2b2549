package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatd/internal/engine/llama"
	"chatd/pkg/types"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func modelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
	return dir
}

func httpDo(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestServeFlow(t *testing.T) {
	dir := modelsDir(t, "alpha-Q4_K_M.gguf", "beta.gguf", "notes.txt")
	port := freePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port), "--models-dir", dir, "--log-level", "error"})
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, body := httpDo(t, http.MethodGet, base+"/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d: %s", resp.StatusCode, body)
	}

	resp, body = httpDo(t, http.MethodGet, base+"/models", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models status %d", resp.StatusCode)
	}
	var mr types.ModelsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(mr.Models) != 2 {
		t.Fatalf("want 2 models, got %+v", mr.Models)
	}
	ids := map[string]string{}
	for _, m := range mr.Models {
		ids[m.ID] = m.Quant
	}
	if q, ok := ids["alpha-Q4_K_M"]; !ok || q != "Q4_K_M" {
		t.Fatalf("alpha not described: %+v", mr.Models)
	}

	resp, _ = httpDo(t, http.MethodPost, base+"/sessions", `{"model":"gamma"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown model status %d, want 404", resp.StatusCode)
	}
	if !llama.Available() {
		resp, _ = httpDo(t, http.MethodPost, base+"/sessions", `{"model":"beta"}`)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("load without llama status %d, want 503", resp.StatusCode)
		}
	}

	resp, body = httpDo(t, http.MethodGet, base+"/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "chatd_http_requests_total") {
		t.Fatalf("metrics missing request counter: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not shut down")
	}
}
