// Package tools implements the tool registry the chat handler consults
// when an upstream model requests a tool call, grounded on
// original_source/system/lib/agents/src/tool.c: same register/replace
// semantics, the same "error: unknown tool '<name>'" message, and the
// same Anthropic-shaped input_schema catalog. Builtin executors and the
// desktop_* forwarding shims are ported from the same file's
// kelp_tool_register_defaults and kelp_desktop_tools.
package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is what an executor returns for one invocation.
type Result struct {
	Output   string
	IsError  bool
	ExitCode int
}

// ExecFn runs one tool invocation against raw JSON arguments.
type ExecFn func(ctx *Context, argsJSON string) Result

// Context is passed to every executor; WorkspaceDir scopes file/bash tools
// the way the original's kelp_tool_ctx_t.workspace_dir does.
type Context struct {
	WorkspaceDir string
}

type entry struct {
	name        string
	description string
	paramsJSON  string
	exec        ExecFn
}

// Registry holds named tool entries; replacing a name logs a warning
// instead of erroring, matching kelp_tool_register's behavior.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*entry
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(name, description, paramsJSON string, fn ExecFn) {
	if paramsJSON == "" {
		paramsJSON = "{}"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		log.Warn().Str("tool", name).Msg("tool already registered, replacing")
	} else {
		r.order = append(r.order, name)
	}

	r.tools[name] = &entry{name: name, description: description, paramsJSON: paramsJSON, exec: fn}
}

// Execute runs the named tool, returning the "unknown tool" error shape
// the original emits when the registry has no matching entry.
func (r *Registry) Execute(ctx *Context, name, argsJSON string) Result {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Output:   fmt.Sprintf("error: unknown tool '%s'", name),
			IsError:  true,
			ExitCode: -1,
		}
	}

	if argsJSON == "" {
		argsJSON = "{}"
	}
	log.Debug().Str("tool", name).Msg("executing tool")
	return e.exec(ctx, argsJSON)
}

// toolDef is the wire shape of one catalog entry.
type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// CatalogJSON renders the Anthropic-shaped tool list:
// [{"name":...,"description":...,"input_schema":{...}}, ...]
// in registration order. A tool whose paramsJSON fails to parse falls
// back to an empty object schema rather than breaking the whole catalog,
// matching the original's cJSON_Parse-fails-to-{} fallback.
func (r *Registry) CatalogJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]toolDef, 0, len(r.order))
	for _, name := range r.order {
		e := r.tools[name]
		schema := json.RawMessage(e.paramsJSON)
		if !json.Valid(schema) {
			schema = json.RawMessage("{}")
		}
		defs = append(defs, toolDef{Name: e.name, Description: e.description, InputSchema: schema})
	}
	return json.Marshal(defs)
}

// RegisterDefaults installs the builtin tools and the desktop_* forwarding
// shims, mirroring kelp_tool_register_defaults.
func RegisterDefaults(r *Registry) {
	r.Register("bash", bashDescription, bashSchema, execBash)
	r.Register("file_read", fileReadDescription, fileReadSchema, execFileRead)
	r.Register("file_write", fileWriteDescription, fileWriteSchema, execFileWrite)
	r.Register("web_fetch", webFetchDescription, webFetchSchema, execWebFetch)

	for _, d := range desktopTools {
		r.Register(d.name, d.description, d.schema, desktopNoop)
	}
}

const bashDescription = "Execute a shell command in the workspace and return its combined output."
const bashSchema = `{"type":"object","properties":{"command":{"type":"string","description":"Shell command to run"}},"required":["command"]}`

func execBash(ctx *Context, argsJSON string) Result {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Result{Output: "error: invalid arguments: " + err.Error(), IsError: true, ExitCode: -1}
	}

	runCtx, cancel := contextWithTimeout(30 * time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", args.Command)
	if ctx.WorkspaceDir != "" {
		cmd.Dir = ctx.WorkspaceDir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Result{Output: string(out) + "\n" + err.Error(), IsError: true, ExitCode: exitCodeOf(err)}
	}
	return Result{Output: string(out), ExitCode: 0}
}

const fileReadDescription = "Read a file from the workspace and return its contents."
const fileReadSchema = `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace"}},"required":["path"]}`

func execFileRead(ctx *Context, argsJSON string) Result {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Result{Output: "error: invalid arguments: " + err.Error(), IsError: true, ExitCode: -1}
	}

	full, err := resolveWorkspacePath(ctx.WorkspaceDir, args.Path)
	if err != nil {
		return Result{Output: "error: " + err.Error(), IsError: true, ExitCode: -1}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return Result{Output: "error: " + err.Error(), IsError: true, ExitCode: -1}
	}
	return Result{Output: string(data), ExitCode: 0}
}

const fileWriteDescription = "Write content to a file in the workspace, creating or overwriting it."
const fileWriteSchema = `{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`

func execFileWrite(ctx *Context, argsJSON string) Result {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Result{Output: "error: invalid arguments: " + err.Error(), IsError: true, ExitCode: -1}
	}

	full, err := resolveWorkspacePath(ctx.WorkspaceDir, args.Path)
	if err != nil {
		return Result{Output: "error: " + err.Error(), IsError: true, ExitCode: -1}
	}

	if err := os.WriteFile(full, []byte(args.Content), 0o644); err != nil {
		return Result{Output: "error: " + err.Error(), IsError: true, ExitCode: -1}
	}
	return Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path), ExitCode: 0}
}

const webFetchDescription = "Fetch a URL over HTTP(S) and return the response body, truncated to a safe size."
const webFetchSchema = `{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`

func execWebFetch(ctx *Context, argsJSON string) Result {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return Result{Output: "error: invalid arguments: " + err.Error(), IsError: true, ExitCode: -1}
	}
	return fetchURL(args.URL)
}

// desktopToolDef matches kelp_desktop_tools: the schema exists so the
// model sees the tool, but execution is forwarded elsewhere.
type desktopToolDef struct {
	name        string
	description string
	schema      string
}

var desktopTools = []desktopToolDef{
	{
		name:        "desktop_move_cursor",
		description: "Move the AI cursor to a position on screen. The cursor animates smoothly to the target.",
		schema:      `{"type":"object","properties":{"x":{"type":"number","description":"X coordinate"},"y":{"type":"number","description":"Y coordinate"}},"required":["x","y"]}`,
	},
	{
		name:        "desktop_click",
		description: "Click at a position on the desktop. This moves the AI cursor and performs a click, which can open dock items or interact with panels.",
		schema:      `{"type":"object","properties":{"x":{"type":"number","description":"X coordinate"},"y":{"type":"number","description":"Y coordinate"}},"required":["x","y"]}`,
	},
	{
		name:        "desktop_type",
		description: `Type text into the currently focused panel. If the chat panel is focused, types into the chat input. If the terminal is focused, types into the shell. Use \n for Enter.`,
		schema:      `{"type":"object","properties":{"text":{"type":"string","description":"Text to type"}},"required":["text"]}`,
	},
	{
		name:        "desktop_open_panel",
		description: "Open a desktop panel. Available panels: chat, terminal, monitor, files. The panel slides in with animation.",
		schema:      `{"type":"object","properties":{"name":{"type":"string","enum":["chat","terminal","monitor","files"],"description":"Panel name to open"}},"required":["name"]}`,
	},
	{
		name:        "desktop_get_state",
		description: "Get the current desktop state as JSON, including screen dimensions, panel positions, cursor location, and which panels are open.",
		schema:      `{"type":"object","properties":{}}`,
	},
}

// desktopNoop is the forwarding shim: execution actually happens via the
// desktop JSON-RPC bridge, not here, matching desktop_tool_noop.
func desktopNoop(ctx *Context, argsJSON string) Result {
	return Result{Output: "[forwarded to desktop]", ExitCode: 0}
}
