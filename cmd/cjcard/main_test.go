package main

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cordum/cjcard/core/controlplane/gateway"
	"github.com/klauspost/compress/zstd"
)

const fakeCommit = "3f786850e387550fdab836ed7e6dc881de23001b"

const fakeGit = `#!/bin/sh
if [ "$1" = "clone" ]; then
  for last; do :; done
  mkdir -p "$last/src"
  printf '[package]\nname = "demo"\n' > "$last/cjpm.toml"
  exit 0
fi
if [ "$1" = "rev-parse" ]; then
  echo ` + fakeCommit + `
  exit 0
fi
exit 1
`

const fakeCjlint = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -f) dir="$2"; shift ;;
    -o) out="$2"; shift ;;
  esac
  shift
done
cat > "$out" <<JSON
[{"file":"$dir/src/main.cj","line":1,"column":1,"endLine":1,"endColumn":4,"analyzerName":"G.FMT.01","description":"d","defectLevel":"MANDATORY","defectType":"G.FMT.01","language":"cangjie"}]
JSON
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeExecutable(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// isolateEnv points every path setting at a temp dir and returns the runtime root.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runtimeRoot := filepath.Join(dir, "cj")
	t.Setenv("CJCARD_CONFIG_PATH", "")
	t.Setenv("CJCARD_RUNTIME_ROOT", runtimeRoot)
	t.Setenv("CJCARD_WORKSPACE_ROOT", filepath.Join(dir, "ws"))
	t.Setenv("CJCARD_BUNDLE_PATH", "")
	t.Setenv("KV_URL", "")
	if err := os.MkdirAll(filepath.Join(dir, "ws"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return runtimeRoot
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "cjcard version=") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAnalyzeRequiresRepo(t *testing.T) {
	if _, _, err := execute(t, "analyze"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestProvisionFromBundlePath(t *testing.T) {
	runtimeRoot := isolateEnv(t)
	bundle := filepath.Join(t.TempDir(), "cjlint.tar.zst")
	if err := os.WriteFile(bundle, buildBundle(t), 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	t.Setenv("CJCARD_BUNDLE_PATH", bundle)

	out, _, err := execute(t, "provision")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	exe := filepath.Join(runtimeRoot, "tools", "bin", "cjlint")
	if strings.TrimSpace(out) != exe {
		t.Fatalf("unexpected output %q", out)
	}
	info, err := os.Stat(exe)
	if err != nil || info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable analyzer: %v", err)
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	runtimeRoot := isolateEnv(t)
	writeExecutable(t, filepath.Join(runtimeRoot, "tools", "bin", "cjlint"), fakeCjlint)
	gitPath := filepath.Join(t.TempDir(), "git")
	writeExecutable(t, gitPath, fakeGit)
	t.Setenv("CJCARD_GIT_BINARY", gitPath)

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()
	t.Setenv("KV_URL", "redis://"+srv.Addr())

	repo := "https://gitcode.com/Cangjie/demo"
	out, stderr, err := execute(t, "analyze", repo)
	if err != nil {
		t.Fatalf("analyze: %v (stdout=%s)", err, out)
	}
	var env gateway.Envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Success || env.Data == nil || env.Data.Commit != fakeCommit || env.Data.PackageName != "demo" {
		t.Fatalf("unexpected envelope %s", out)
	}
	if env.Data.Cjlint[0].File != "src/main.cj" {
		t.Fatalf("expected normalized path, got %q", env.Data.Cjlint[0].File)
	}
	if !strings.Contains(stderr, "demo: score 95 (A+)") {
		t.Fatalf("unexpected summary %q", stderr)
	}
	stored, err := srv.Get("cjlint_" + repo)
	if err != nil || !strings.Contains(stored, `"package_name":"demo"`) {
		t.Fatalf("expected stored result, got %q %v", stored, err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(os.Getenv("CJCARD_WORKSPACE_ROOT"), "cjrepo_*"))
	if len(leftovers) != 0 {
		t.Fatalf("workspace leaked: %v", leftovers)
	}
}

func TestAnalyzeMissingKVURL(t *testing.T) {
	runtimeRoot := isolateEnv(t)
	writeExecutable(t, filepath.Join(runtimeRoot, "tools", "bin", "cjlint"), fakeCjlint)

	out, _, err := execute(t, "analyze", "https://gitcode.com/x/y")
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	var env gateway.Envelope
	if jerr := json.Unmarshal([]byte(out), &env); jerr != nil {
		t.Fatalf("decode envelope: %v", jerr)
	}
	if env.Success || env.Code != "configuration" || env.Error == nil {
		t.Fatalf("unexpected envelope %s", out)
	}
}

func TestAnalyzeNoStore(t *testing.T) {
	runtimeRoot := isolateEnv(t)
	writeExecutable(t, filepath.Join(runtimeRoot, "tools", "bin", "cjlint"), fakeCjlint)
	gitPath := filepath.Join(t.TempDir(), "git")
	writeExecutable(t, gitPath, fakeGit)
	t.Setenv("CJCARD_GIT_BINARY", gitPath)

	out, _, err := execute(t, "analyze", "--no-store", "https://gitcode.com/x/y")
	if err != nil {
		t.Fatalf("analyze --no-store: %v (%s)", err, out)
	}
	if !strings.Contains(out, `"success": true`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func buildBundle(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	tw := tar.NewWriter(enc)
	body := []byte(fakeCjlint)
	if err := tw.WriteHeader(&tar.Header{Name: "tools/bin/cjlint", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatalf("header: %v", err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close zstd: %v", err)
	}
	return buf.Bytes()
}
