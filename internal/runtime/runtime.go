// Package runtime defines the narrow capability interface the
// execution engine consumes from an embedded scripting interpreter,
// and the configuration-driven selection of a concrete engine.
package runtime

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Runtime is the capability set consumed from a scripting engine.
// Implementations are not safe for concurrent use; the executor
// serializes all access.
type Runtime interface {
	// Eval evaluates a script and returns its textual result.
	Eval(script string) (string, error)
	// SetVar binds a variable to a literal rendered by the engine.
	SetVar(name, value string) error
	// GetVar reads a variable's textual value.
	GetVar(name string) (string, error)
	// HasCommand reports whether a built-in of that name exists.
	HasCommand(name string) bool

	// Descriptive metadata, used only at the protocol surface.
	Name() string
	Version() string
	Safe() bool
	Features() []string
}

// Type identifies a concrete runtime implementation.
type Type string

const (
	TypeStarlark Type = "starlark"
)

// EnvVar selects the runtime type from the environment; a --runtime
// CLI value overrides it.
const EnvVar = "TCLMCP_RUNTIME"

// ParseType parses a runtime type name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "starlark":
		return TypeStarlark, nil
	default:
		return "", fmt.Errorf("invalid runtime type %q (valid: %s)", s, joinTypes(Available()))
	}
}

// Available lists the runtime types compiled into this binary.
func Available() []Type {
	return []Type{TypeStarlark}
}

// Config selects a runtime at startup. When Fallback is set, an
// unavailable requested type degrades to the default instead of
// failing.
type Config struct {
	Type     Type
	Fallback bool
}

// New constructs the configured runtime.
func New(cfg Config, logger *zap.Logger) (Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case "", TypeStarlark:
		logger.Info("using starlark runtime")
		return NewStarlark(), nil
	default:
		if cfg.Fallback {
			logger.Warn("requested runtime unavailable, falling back to starlark",
				zap.String("requested", string(cfg.Type)))
			return NewStarlark(), nil
		}
		return nil, fmt.Errorf("runtime %q not available", cfg.Type)
	}
}

// FromEnv builds a runtime from the environment variable and an
// optional CLI override.
func FromEnv(cliType string, logger *zap.Logger) (Runtime, error) {
	cfg := Config{Fallback: true}
	if env := os.Getenv(EnvVar); env != "" {
		t, err := ParseType(env)
		if err != nil {
			return nil, err
		}
		cfg.Type = t
	}
	if cliType != "" {
		t, err := ParseType(cliType)
		if err != nil {
			return nil, err
		}
		cfg.Type = t
	}
	return New(cfg, logger)
}

func joinTypes(types []Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
