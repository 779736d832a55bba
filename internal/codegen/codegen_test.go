package codegen

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeTool writes a small shell script that emits the line-
// delimited JSON shape the Tool parses, then returns its path.
func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-tool.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

func TestRunParsesResultLine(t *testing.T) {
	path := writeFakeTool(t, `
echo '{"type":"progress","note":"thinking"}'
echo 'not json, ignored'
echo '{"type":"result","result":"patched the parser","model":"codegen-v1","usage":{"input_tokens":120,"output_tokens":40}}'
`)

	tool := New(path, 5*time.Second)
	res, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "patched the parser" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Model != "codegen-v1" {
		t.Errorf("Model = %q", res.Model)
	}
	if res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 40 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestRunFirstResultLineWins(t *testing.T) {
	path := writeFakeTool(t, `
echo '{"type":"result","result":"first"}'
echo '{"type":"result","result":"second"}'
`)

	tool := New(path, 5*time.Second)
	res, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "first" {
		t.Errorf("Output = %q, want first result line to win", res.Output)
	}
}

func TestRunNoResultLine(t *testing.T) {
	path := writeFakeTool(t, `echo '{"type":"progress"}'`)

	tool := New(path, 5*time.Second)
	_, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err != ErrNoResultLine {
		t.Errorf("err = %v, want ErrNoResultLine", err)
	}
}

func TestRunTimeout(t *testing.T) {
	path := writeFakeTool(t, `sleep 2`)

	tool := New(path, 50*time.Millisecond)
	_, err := tool.Run(context.Background(), Request{PromptFile: "prompt.md", WorkDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
