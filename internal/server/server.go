// Package server exposes the execution engine over the Model Context
// Protocol. Tool identifiers on the wire use the encoded name form,
// since MCP tool names cannot carry '/' or ':'.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"tclmcp/internal/buildinfo"
	"tclmcp/internal/domain"
	"tclmcp/internal/executor"
)

// RuntimeInfo describes the interpreter behind the server, surfaced in
// the documentation tool.
type RuntimeInfo struct {
	Name     string
	Version  string
	Safe     bool
	Features []string
}

// Options configures the protocol server.
type Options struct {
	// Privileged enables the sbin tool-management surface and
	// discovery administration.
	Privileged bool
	Runtime    RuntimeInfo
	Logger     *zap.Logger
}

// Server bridges MCP sessions to the executor client.
type Server struct {
	exec       *executor.Client
	mcp        *mcp.Server
	privileged bool
	runtime    RuntimeInfo
	logger     *zap.Logger

	mu         sync.Mutex
	registered map[string]struct{}
}

// New builds the MCP server and registers the system tool surface.
// Call RefreshCustomTools after mutating the tool table so sessions
// see the current custom and discovered tools.
func New(exec *executor.Client, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		exec:       exec,
		privileged: opts.Privileged,
		runtime:    opts.Runtime,
		logger:     logger.Named("server"),
		registered: make(map[string]struct{}),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    domain.AppName,
		Version: buildinfo.Version,
	}, &mcp.ServerOptions{
		HasTools: true,
	})
	s.registerSystemTools()
	return s
}

// MCP returns the underlying protocol server, used by transports and
// in-memory test connections.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// RunStdio serves one session over stdin/stdout until ctx ends.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving on stdio", zap.Bool("privileged", s.privileged))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerSystemTools() {
	s.mcp.AddTool(systemTool(domain.Bin("tcl_execute"),
		"Execute a script and return its result",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"script": map[string]any{
					"type":        "string",
					"description": "Script to execute",
				},
			},
			"required": []string{"script"},
		}), s.handleExecute)

	s.mcp.AddTool(systemTool(domain.Bin("tcl_tool_list"),
		"List all available tools",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"namespace": map[string]any{
					"type":        "string",
					"description": "Filter tools by namespace (optional)",
				},
				"filter": map[string]any{
					"type":        "string",
					"description": "Filter tools by name pattern (optional)",
				},
			},
		}), s.handleToolList)

	s.mcp.AddTool(systemTool(domain.Bin("exec_tool"),
		"Execute a tool by its path with parameters",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool_path": map[string]any{
					"type":        "string",
					"description": "Full path to the tool (e.g., '/bin/list_dir')",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Parameters to pass to the tool",
				},
			},
			"required": []string{"tool_path"},
		}), s.handleExecTool)

	s.mcp.AddTool(systemTool(domain.Bin("discover_tools"),
		"Discover and index tools from the filesystem",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}), s.handleDiscoverTools)

	s.mcp.AddTool(systemTool(domain.Docs("script_book"),
		"Scripting language documentation and examples",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "Documentation topic: 'overview', 'basic_syntax', 'commands', 'examples', or 'links'",
					"enum":        []string{"overview", "basic_syntax", "commands", "examples", "links"},
				},
			},
		}), s.handleScriptBook)

	if !s.privileged {
		return
	}

	s.mcp.AddTool(systemTool(domain.Sbin("tcl_tool_add"),
		"Add a new tool to the available tools (PRIVILEGED)",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user": map[string]any{
					"type":        "string",
					"description": "User namespace",
				},
				"package": map[string]any{
					"type":        "string",
					"description": "Package name",
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the new tool",
				},
				"version": map[string]any{
					"type":        "string",
					"description": "Version of the tool (defaults to 'latest')",
					"default":     domain.VersionLatest,
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Description of what the tool does",
				},
				"script": map[string]any{
					"type":        "string",
					"description": "Script that implements the tool",
				},
				"parameters": map[string]any{
					"type":        "array",
					"description": "Parameters that the tool accepts",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":        map[string]any{"type": "string"},
							"description": map[string]any{"type": "string"},
							"required":    map[string]any{"type": "boolean"},
							"type_name":   map[string]any{"type": "string"},
						},
						"required": []string{"name", "description", "required", "type_name"},
					},
				},
			},
			"required": []string{"user", "package", "name", "description", "script"},
		}), s.handleToolAdd)

	s.mcp.AddTool(systemTool(domain.Sbin("tcl_tool_remove"),
		"Remove a tool from the available tools (PRIVILEGED)",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Full tool path (e.g., '/alice/utils/reverse_string:1.0')",
				},
			},
			"required": []string{"path"},
		}), s.handleToolRemove)
}

func systemTool(path domain.ToolPath, description string, schema map[string]any) *mcp.Tool {
	return &mcp.Tool{
		Name:        path.EncodedName(),
		Description: fmt.Sprintf("%s [%s]", description, path),
		InputSchema: schema,
	}
}

// RefreshCustomTools synchronizes the advertised tool list with the
// executor's custom and discovered tools.
func (s *Server) RefreshCustomTools(ctx context.Context) error {
	defs, err := s.exec.GetToolDefinitions(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		name := def.Path.EncodedName()
		s.mcp.AddTool(&mcp.Tool{
			Name:        name,
			Description: fmt.Sprintf("%s [%s]", def.Description, def.Path),
			InputSchema: customToolSchema(def.Parameters),
		}, s.handleCustomTool)
		next[name] = struct{}{}
	}

	var remove []string
	for name := range s.registered {
		if _, ok := next[name]; !ok {
			remove = append(remove, name)
		}
	}
	if len(remove) > 0 {
		s.mcp.RemoveTools(remove...)
	}
	s.registered = next
	return nil
}

func customToolSchema(parameters []domain.ParameterDefinition) map[string]any {
	properties := make(map[string]any, len(parameters))
	var required []string
	for _, param := range parameters {
		properties[param.Name] = map[string]any{
			"type":        jsonType(param.TypeName),
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(typeName string) string {
	switch strings.ToLower(typeName) {
	case "string", "number", "integer", "boolean", "array", "object":
		return strings.ToLower(typeName)
	case "int":
		return "integer"
	case "float", "double":
		return "number"
	case "bool":
		return "boolean"
	case "list":
		return "array"
	case "dict", "map":
		return "object"
	default:
		return "string"
	}
}

func decodeArgs(req *mcp.CallToolRequest, target any) error {
	raw := json.RawMessage(req.Params.Arguments)
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, target)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}

func (s *Server) handleExecute(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Script string `json:"script"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	out, err := s.exec.Execute(ctx, args.Script)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(out), nil
}

func (s *Server) handleToolList(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Namespace string `json:"namespace"`
		Filter    string `json:"filter"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	paths, err := s.exec.ListTools(ctx, args.Namespace, args.Filter)
	if err != nil {
		return errorResult(err), nil
	}
	out, err := json.MarshalIndent(paths, "", "  ")
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(string(out)), nil
}

func (s *Server) handleToolAdd(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.privileged {
		return errorResult(errPrivileged), nil
	}
	var args struct {
		User        string                       `json:"user"`
		Package     string                       `json:"package"`
		Name        string                       `json:"name"`
		Version     string                       `json:"version"`
		Description string                       `json:"description"`
		Script      string                       `json:"script"`
		Parameters  []domain.ParameterDefinition `json:"parameters"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	path := domain.UserTool(args.User, args.Package, args.Name, args.Version)
	out, err := s.exec.AddTool(ctx, path, args.Description, args.Script, args.Parameters)
	if err != nil {
		return errorResult(err), nil
	}
	if err := s.RefreshCustomTools(ctx); err != nil {
		s.logger.Warn("tool refresh failed", zap.Error(err))
	}
	return textResult(out), nil
}

func (s *Server) handleToolRemove(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.privileged {
		return errorResult(errPrivileged), nil
	}
	var args struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	path, err := domain.ParsePath(args.Path)
	if err != nil {
		return errorResult(err), nil
	}
	out, err := s.exec.RemoveTool(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	if err := s.RefreshCustomTools(ctx); err != nil {
		s.logger.Warn("tool refresh failed", zap.Error(err))
	}
	return textResult(out), nil
}

func (s *Server) handleExecTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		ToolPath string         `json:"tool_path"`
		Params   map[string]any `json:"params"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	out, err := s.exec.ExecTool(ctx, args.ToolPath, args.Params)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(out), nil
}

func (s *Server) handleDiscoverTools(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.privileged {
		return errorResult(errPrivileged), nil
	}
	out, err := s.exec.DiscoverTools(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if err := s.RefreshCustomTools(ctx); err != nil {
		s.logger.Warn("tool refresh failed", zap.Error(err))
	}
	return textResult(out), nil
}

// handleCustomTool serves every dynamically registered tool. The wire
// name decodes to a path; custom tools are tried first and discovered
// tools are resolved through the path-string executor fallback.
func (s *Server) handleCustomTool(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := domain.ParseEncodedName(req.Params.Name)
	if err != nil {
		return errorResult(err), nil
	}
	var params map[string]any
	if err := decodeArgs(req, &params); err != nil {
		return errorResult(err), nil
	}

	out, err := s.exec.ExecuteCustomTool(ctx, path, params)
	if domain.HasCode(err, domain.CodeNotFound) {
		out, err = s.exec.ExecTool(ctx, path.String(), params)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(out), nil
}

var errPrivileged = fmt.Errorf("tool management requires privileged mode")
