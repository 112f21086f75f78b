package runtime

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// starlarkRuntime wraps a persistent Starlark environment. Variables
// bound with SetVar and globals defined by evaluated scripts live in
// one dictionary, so procedures defined in one call stay callable in
// later calls.
type starlarkRuntime struct {
	globals starlark.StringDict
	opts    *syntax.FileOptions
	printed strings.Builder
}

// NewStarlark creates the Starlark-backed runtime. Top-level control
// flow, while loops, recursion and global reassignment are enabled to
// keep imperative scripts natural.
func NewStarlark() Runtime {
	return &starlarkRuntime{
		globals: starlark.StringDict{},
		opts: &syntax.FileOptions{
			Set:             true,
			While:           true,
			TopLevelControl: true,
			GlobalReassign:  true,
			Recursion:       true,
		},
	}
}

func (r *starlarkRuntime) thread() *starlark.Thread {
	return &starlark.Thread{
		Name: "tclmcp",
		Print: func(_ *starlark.Thread, msg string) {
			r.printed.WriteString(msg)
			r.printed.WriteByte('\n')
		},
	}
}

// Eval evaluates script and returns its textual result. A single
// expression yields its value; a multi-statement script yields the
// value of a "result" global if the script assigns one, otherwise any
// print output.
func (r *starlarkRuntime) Eval(script string) (string, error) {
	r.printed.Reset()

	if _, err := r.opts.ParseExpr("<script>", script, 0); err == nil {
		value, err := starlark.EvalOptions(r.opts, r.thread(), "<script>", script, r.globals)
		if err != nil {
			return "", evalError(err)
		}
		return r.render(value), nil
	}

	globals, err := starlark.ExecFileOptions(r.opts, r.thread(), "<script>", script, r.globals)
	if err != nil {
		return "", evalError(err)
	}
	for name, value := range globals {
		r.globals[name] = value
	}
	if result, ok := globals["result"]; ok {
		return r.render(result), nil
	}
	return strings.TrimRight(r.printed.String(), "\n"), nil
}

// SetVar binds a variable from rendered literal text. The literal is
// interpreted as a Starlark expression when possible (quoted strings,
// numbers); anything else is bound as a raw string.
func (r *starlarkRuntime) SetVar(name, value string) error {
	if _, err := r.opts.ParseExpr("<bind>", value, 0); err == nil {
		if v, err := starlark.EvalOptions(r.opts, r.thread(), "<bind>", value, r.globals); err == nil {
			r.globals[name] = v
			return nil
		}
	}
	r.globals[name] = starlark.String(value)
	return nil
}

func (r *starlarkRuntime) GetVar(name string) (string, error) {
	value, ok := r.globals[name]
	if !ok {
		return "", fmt.Errorf("variable %q not set", name)
	}
	return r.render(value), nil
}

func (r *starlarkRuntime) HasCommand(name string) bool {
	if _, ok := r.globals[name]; ok {
		return true
	}
	_, ok := starlark.Universe[name]
	return ok
}

func (r *starlarkRuntime) Name() string    { return "starlark" }
func (r *starlarkRuntime) Version() string { return "go.starlark.net" }
func (r *starlarkRuntime) Safe() bool      { return true }

func (r *starlarkRuntime) Features() []string {
	return []string{
		"safe_subset",
		"memory_safe",
		"no_file_io",
		"deterministic",
		"functions",
		"string_manipulation",
		"list_operations",
		"dict_operations",
		"control_flow",
	}
}

// render converts a Starlark value to result text: strings render
// unquoted, None renders empty, everything else uses Starlark syntax.
func (r *starlarkRuntime) render(value starlark.Value) string {
	if value == starlark.None {
		return strings.TrimRight(r.printed.String(), "\n")
	}
	if s, ok := starlark.AsString(value); ok {
		return s
	}
	return value.String()
}

func evalError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return fmt.Errorf("script error: %s", evalErr.Msg)
	}
	return fmt.Errorf("script error: %w", err)
}
