package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tclmcp/internal/executor"
	"tclmcp/internal/runtime"
	"tclmcp/internal/store"
)

func newTestServer(t *testing.T, privileged bool) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	root := t.TempDir()
	exec := executor.Spawn(ctx, executor.Options{
		Runtime: runtime.NewStarlark(),
		OpenStore: func() (executor.Store, error) {
			return store.Open(root, zap.NewNop())
		},
	})
	rt := runtime.NewStarlark()
	return New(exec, Options{
		Privileged: privileged,
		Runtime: RuntimeInfo{
			Name:     rt.Name(),
			Version:  rt.Version(),
			Safe:     rt.Safe(),
			Features: rt.Features(),
		},
		Logger: zap.NewNop(),
	})
}

func connectClient(t *testing.T, ctx context.Context, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ct, st := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "0.1.0"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func toolNames(t *testing.T, session *mcp.ClientSession) []string {
	t.Helper()
	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestSystemToolSurface(t *testing.T) {
	ctx := context.Background()

	unprivileged := newTestServer(t, false)
	names := toolNames(t, connectClient(t, ctx, unprivileged.MCP()))
	require.Contains(t, names, "bin___tcl_execute")
	require.Contains(t, names, "bin___tcl_tool_list")
	require.Contains(t, names, "bin___exec_tool")
	require.Contains(t, names, "bin___discover_tools")
	require.Contains(t, names, "docs___script_book")
	require.NotContains(t, names, "sbin___tcl_tool_add")
	require.NotContains(t, names, "sbin___tcl_tool_remove")

	privileged := newTestServer(t, true)
	names = toolNames(t, connectClient(t, ctx, privileged.MCP()))
	require.Contains(t, names, "sbin___tcl_tool_add")
	require.Contains(t, names, "sbin___tcl_tool_remove")
}

func TestExecuteOverProtocol(t *testing.T) {
	session := connectClient(t, context.Background(), newTestServer(t, false).MCP())

	out, isErr := callText(t, session, "bin___tcl_execute", map[string]any{"script": "6 * 7"})
	require.False(t, isErr)
	require.Equal(t, "42", out)

	out, isErr = callText(t, session, "bin___tcl_execute", map[string]any{"script": "nope("})
	require.True(t, isErr)
	require.Contains(t, out, "script error")
}

func TestToolLifecycleOverProtocol(t *testing.T) {
	srv := newTestServer(t, true)
	session := connectClient(t, context.Background(), srv.MCP())

	out, isErr := callText(t, session, "sbin___tcl_tool_add", map[string]any{
		"user":        "alice",
		"package":     "utils",
		"name":        "reverse_string",
		"version":     "1.0",
		"description": "Reverses a string",
		"script":      "text[::-1]",
		"parameters": []map[string]any{
			{"name": "text", "description": "Text to reverse", "required": true, "type_name": "string"},
		},
	})
	require.False(t, isErr)
	require.Contains(t, out, "added successfully and persisted")

	names := toolNames(t, session)
	require.Contains(t, names, "user_alice__utils___reverse_string__v1_0")

	out, isErr = callText(t, session, "user_alice__utils___reverse_string__v1_0", map[string]any{
		"text": "hello",
	})
	require.False(t, isErr)
	require.Equal(t, "olleh", out)

	out, isErr = callText(t, session, "user_alice__utils___reverse_string__v1_0", map[string]any{})
	require.True(t, isErr)
	require.Contains(t, out, "Missing required parameter: text")

	out, isErr = callText(t, session, "sbin___tcl_tool_remove", map[string]any{
		"path": "/alice/utils/reverse_string:1.0",
	})
	require.False(t, isErr)
	require.Contains(t, out, "removed successfully")

	names = toolNames(t, session)
	require.NotContains(t, names, "user_alice__utils___reverse_string__v1_0")
}

func TestPrivilegeGates(t *testing.T) {
	srv := newTestServer(t, false)
	session := connectClient(t, context.Background(), srv.MCP())

	out, isErr := callText(t, session, "bin___discover_tools", map[string]any{})
	require.True(t, isErr)
	require.Contains(t, out, "privileged")
}

func TestToolListOverProtocol(t *testing.T) {
	session := connectClient(t, context.Background(), newTestServer(t, false).MCP())

	out, isErr := callText(t, session, "bin___tcl_tool_list", map[string]any{"namespace": "bin"})
	require.False(t, isErr)

	var paths []string
	require.NoError(t, json.Unmarshal([]byte(out), &paths))
	require.Contains(t, paths, "/bin/tcl_execute")
	require.Contains(t, paths, "/bin/exec_tool")
}

func TestExecToolOverProtocol(t *testing.T) {
	session := connectClient(t, context.Background(), newTestServer(t, false).MCP())

	out, isErr := callText(t, session, "bin___exec_tool", map[string]any{
		"tool_path": "/bin/tcl_execute",
		"params":    map[string]any{"script": "1 + 1"},
	})
	require.False(t, isErr)
	require.Equal(t, "2", out)

	out, isErr = callText(t, session, "bin___exec_tool", map[string]any{
		"tool_path": "/ghost/pkg/tool",
	})
	require.True(t, isErr)
	require.Contains(t, out, "not found")
}

func TestScriptBookTopics(t *testing.T) {
	session := connectClient(t, context.Background(), newTestServer(t, false).MCP())

	out, isErr := callText(t, session, "docs___script_book", map[string]any{})
	require.False(t, isErr)
	require.Contains(t, out, "starlark")

	out, isErr = callText(t, session, "docs___script_book", map[string]any{"topic": "examples"})
	require.False(t, isErr)
	require.Contains(t, out, "reverse_string")

	out, isErr = callText(t, session, "docs___script_book", map[string]any{"topic": "nope"})
	require.True(t, isErr)
	require.Contains(t, out, "unknown documentation topic")
}
