package tools

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestExecuteUnknownToolReturnsFormattedError(t *testing.T) {
	r := New()
	res := r.Execute(&Context{}, "does_not_exist", "{}")
	if !res.IsError || res.Output != "error: unknown tool 'does_not_exist'" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.ExitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	r.Register("echo", "first", "{}", func(ctx *Context, args string) Result {
		return Result{Output: "first"}
	})
	r.Register("echo", "second", "{}", func(ctx *Context, args string) Result {
		return Result{Output: "second"}
	})

	res := r.Execute(&Context{}, "echo", "{}")
	if res.Output != "second" {
		t.Fatalf("expected replaced tool to run, got %q", res.Output)
	}

	cat, err := r.CatalogJSON()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	var defs []toolDef
	if err := json.Unmarshal(cat, &defs); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	count := 0
	for _, d := range defs {
		if d.Name == "echo" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one 'echo' entry after replace, got %d", count)
	}
}

func TestCatalogJSONFallsBackToEmptySchemaOnInvalidParams(t *testing.T) {
	r := New()
	r.Register("broken", "desc", "not json", func(ctx *Context, args string) Result {
		return Result{}
	})

	cat, err := r.CatalogJSON()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	var defs []toolDef
	if err := json.Unmarshal(cat, &defs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(defs[0].InputSchema) != "{}" {
		t.Fatalf("expected fallback {} schema, got %s", defs[0].InputSchema)
	}
}

func TestRegisterDefaultsIncludesDesktopShims(t *testing.T) {
	r := New()
	RegisterDefaults(r)

	res := r.Execute(&Context{}, "desktop_click", `{"x":1,"y":2}`)
	if res.Output != "[forwarded to desktop]" || res.IsError {
		t.Fatalf("expected desktop shim marker, got %+v", res)
	}

	res2 := r.Execute(&Context{}, "bash", `{"command":"echo hi"}`)
	if res2.IsError {
		t.Fatalf("expected bash tool to succeed, got %+v", res2)
	}
}

func TestFileReadWriteRoundTrip(t *testing.T) {
	r := New()
	RegisterDefaults(r)
	dir := t.TempDir()
	ctx := &Context{WorkspaceDir: dir}

	writeRes := r.Execute(ctx, "file_write", `{"path":"note.txt","content":"hello world"}`)
	if writeRes.IsError {
		t.Fatalf("write failed: %+v", writeRes)
	}

	readRes := r.Execute(ctx, "file_read", `{"path":"note.txt"}`)
	if readRes.IsError || readRes.Output != "hello world" {
		t.Fatalf("unexpected read result: %+v", readRes)
	}
}

func TestFileReadRejectsPathEscape(t *testing.T) {
	r := New()
	RegisterDefaults(r)
	dir := t.TempDir()
	ctx := &Context{WorkspaceDir: dir}

	res := r.Execute(ctx, "file_read", `{"path":"../../etc/passwd"}`)
	if !res.IsError {
		t.Fatalf("expected escape attempt to be rejected, got %+v", res)
	}
}

func TestResolveWorkspacePathJoins(t *testing.T) {
	dir := t.TempDir()
	full, err := resolveWorkspacePath(dir, "sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != filepath.Join(dir, "sub/file.txt") {
		t.Fatalf("unexpected path: %s", full)
	}
}
