package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	p, err := ExpandHome("~")
	if err != nil || p != home {
		t.Fatalf("expected %q, got %q err=%v", home, p, err)
	}
	exp, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if filepath.Base(exp) != "models" || filepath.Dir(exp) != home {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestResolveIsAbsolute(t *testing.T) {
	p, err := Resolve("models")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !filepath.IsAbs(p) {
		t.Fatalf("expected absolute path, got %q", p)
	}
}

func TestFileChecks(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "m.GGUF")
	if err := os.WriteFile(f, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if IsRegularFile(filepath.Join(dir, "missing.gguf")) {
		t.Fatalf("missing path reported as a file")
	}
	if !IsRegularFile(f) || IsRegularFile(dir) {
		t.Fatalf("IsRegularFile wrong for file/dir")
	}
	if !HasExt(f, ".gguf") || HasExt(f, ".bin") {
		t.Fatalf("HasExt wrong")
	}
}
