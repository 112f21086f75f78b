package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tclmcp/internal/domain"
	"tclmcp/internal/runtime"
	"tclmcp/internal/store"
)

// recordingRuntime counts evaluations so tests can assert the
// interpreter was never reached.
type recordingRuntime struct {
	runtime.Runtime
	evals int
}

func (r *recordingRuntime) Eval(script string) (string, error) {
	r.evals++
	return r.Runtime.Eval(script)
}

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if opts.Runtime == nil {
		opts.Runtime = runtime.NewStarlark()
	}
	if opts.OpenStore == nil {
		root := t.TempDir()
		opts.OpenStore = func() (Store, error) {
			return store.Open(root, zap.NewNop())
		}
	}
	return Spawn(ctx, opts)
}

func TestExecuteScript(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	out, err := client.Execute(ctx, "2 + 3")
	require.NoError(t, err)
	require.Equal(t, "5", out)

	_, err = client.Execute(ctx, "undefined_name")
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeInterpreter))
}

func TestAddToolRejectsSystemNamespaces(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	for _, path := range []domain.ToolPath{
		domain.Bin("evil"),
		domain.Sbin("evil"),
		domain.Docs("evil"),
	} {
		_, err := client.AddTool(ctx, path, "d", "1", nil)
		require.Error(t, err)
		require.True(t, domain.HasCode(err, domain.CodeNamespaceViolation))
	}

	defs, err := client.GetToolDefinitions(ctx)
	require.NoError(t, err)
	require.Empty(t, defs)
}

func TestRemoveToolRejectsSystemNamespaces(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	_, err := client.RemoveTool(ctx, domain.Bin("tcl_execute"))
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeNamespaceViolation))
}

func TestAddToolRejectsDuplicates(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "echo", "")

	_, err := client.AddTool(ctx, path, "d", `"hi"`, nil)
	require.NoError(t, err)

	_, err = client.AddTool(ctx, path, "d", `"hi"`, nil)
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeAlreadyExists))
}

func TestRequiredParameterGate(t *testing.T) {
	rec := &recordingRuntime{Runtime: runtime.NewStarlark()}
	client := newTestClient(t, Options{Runtime: rec})
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "greet", "")

	_, err := client.AddTool(ctx, path, "d", `"hello " + name`, []domain.ParameterDefinition{
		{Name: "name", Required: true, TypeName: "string"},
	})
	require.NoError(t, err)

	_, err = client.ExecuteCustomTool(ctx, path, map[string]any{})
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeMissingParameter))
	require.Contains(t, err.Error(), "Missing required parameter: name")
	require.Zero(t, rec.evals)

	out, err := client.ExecuteCustomTool(ctx, path, map[string]any{"name": "bob"})
	require.NoError(t, err)
	require.Equal(t, "hello bob", out)
	require.Equal(t, 1, rec.evals)
}

func TestRemoveToolNotFound(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "gone", "")

	_, err := client.AddTool(ctx, path, "d", "1", nil)
	require.NoError(t, err)

	out, err := client.RemoveTool(ctx, path)
	require.NoError(t, err)
	require.Contains(t, out, "removed successfully")

	_, err = client.RemoveTool(ctx, path)
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestConcurrentAddsNoLostUpdates(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := domain.UserTool("alice", "bulk", fmt.Sprintf("tool_%d", i), "")
			_, errs[i] = client.AddTool(ctx, path, "d", "1", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	defs, err := client.GetToolDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, n)
}

func TestListToolsFilters(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	_, err := client.AddTool(ctx, domain.UserTool("alice", "utils", "reverse", ""), "d", "1", nil)
	require.NoError(t, err)
	_, err = client.AddTool(ctx, domain.UserTool("bob", "math", "add", ""), "d", "1", nil)
	require.NoError(t, err)

	all, err := client.ListTools(ctx, "", "")
	require.NoError(t, err)
	require.Contains(t, all, "/bin/tcl_execute")
	require.Contains(t, all, "/sbin/tcl_tool_add")
	require.Contains(t, all, "/alice/utils/reverse")
	require.Contains(t, all, "/bob/math/add")
	require.IsIncreasing(t, all)

	alice, err := client.ListTools(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, []string{"/alice/utils/reverse"}, alice)

	bin, err := client.ListTools(ctx, "bin", "")
	require.NoError(t, err)
	for _, path := range bin {
		require.Contains(t, path, "/bin/")
	}

	filtered, err := client.ListTools(ctx, "", "add")
	require.NoError(t, err)
	require.Contains(t, filtered, "/bob/math/add")
	require.Contains(t, filtered, "/sbin/tcl_tool_add")
	require.NotContains(t, filtered, "/alice/utils/reverse")
}

func TestInitializePersistenceIsIdempotent(t *testing.T) {
	root := t.TempDir()
	openStore := func() (Store, error) {
		return store.Open(root, zap.NewNop())
	}
	client := newTestClient(t, Options{OpenStore: openStore})
	ctx := context.Background()

	out, err := client.InitializePersistence(ctx)
	require.NoError(t, err)
	require.Equal(t, "Persistence initialized. Loaded 0 tools from storage.", out)

	out, err = client.InitializePersistence(ctx)
	require.NoError(t, err)
	require.Equal(t, "Persistence already initialized", out)
}

func TestPersistenceSurvivesRestart(t *testing.T) {
	root := t.TempDir()
	openStore := func() (Store, error) {
		return store.Open(root, zap.NewNop())
	}
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "reverse", "1.0")

	first := newTestClient(t, Options{OpenStore: openStore})
	out, err := first.AddTool(ctx, path, "d", "text[::-1]", []domain.ParameterDefinition{
		{Name: "text", Required: true, TypeName: "string"},
	})
	require.NoError(t, err)
	require.Contains(t, out, "added successfully and persisted")

	second := newTestClient(t, Options{OpenStore: openStore})
	out, err = second.InitializePersistence(ctx)
	require.NoError(t, err)
	require.Equal(t, "Persistence initialized. Loaded 1 tools from storage.", out)

	result, err := second.ExecuteCustomTool(ctx, path, map[string]any{"text": "abc"})
	require.NoError(t, err)
	require.Equal(t, "cba", result)
}

func TestAddToolDegradesWithoutPersistence(t *testing.T) {
	openStore := func() (Store, error) {
		return nil, fmt.Errorf("disk on fire")
	}
	client := newTestClient(t, Options{OpenStore: openStore})
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "volatile", "")

	out, err := client.AddTool(ctx, path, "d", "1", nil)
	require.NoError(t, err)
	require.Contains(t, out, "added to memory (persistence unavailable)")

	_, err = client.InitializePersistence(ctx)
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodePersistence))
}

type staticDiscoverer struct {
	tools []domain.DiscoveredTool
}

func (d *staticDiscoverer) Discover() ([]domain.DiscoveredTool, error) {
	return d.tools, nil
}

func TestDiscoverToolsMergesAdditively(t *testing.T) {
	first := domain.DiscoveredTool{Path: domain.Bin("scan_a"), Description: "a"}
	second := domain.DiscoveredTool{Path: domain.Bin("scan_b"), Description: "b"}
	disc := &staticDiscoverer{tools: []domain.DiscoveredTool{first}}
	client := newTestClient(t, Options{Discoverer: disc})
	ctx := context.Background()

	out, err := client.DiscoverTools(ctx)
	require.NoError(t, err)
	require.Equal(t, "Discovered 1 tools from filesystem", out)

	// A rescan that no longer sees the first tool keeps it anyway.
	disc.tools = []domain.DiscoveredTool{second}
	_, err = client.DiscoverTools(ctx)
	require.NoError(t, err)

	all, err := client.ListTools(ctx, "", "scan_")
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/scan_a", "/bin/scan_b"}, all)
}

func TestGetToolDefinitionsIncludesDiscoveredPlaceholders(t *testing.T) {
	discovered := domain.DiscoveredTool{
		Path:         domain.Bin("lazy"),
		Description:  "lazily loaded",
		FileLocation: "/tools/bin/lazy.tcl",
		Parameters:   []domain.ParameterDefinition{{Name: "x", TypeName: "string"}},
	}
	client := newTestClient(t, Options{Discoverer: &staticDiscoverer{tools: []domain.DiscoveredTool{discovered}}})
	ctx := context.Background()

	_, err := client.DiscoverTools(ctx)
	require.NoError(t, err)

	defs, err := client.GetToolDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "# Tool loaded from: /tools/bin/lazy.tcl", defs[0].Script)
	require.Equal(t, discovered.Parameters, defs[0].Parameters)
}

func TestExecToolRunsDiscoveredToolFromDisk(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "shout.star")
	require.NoError(t, os.WriteFile(location, []byte("text.upper()\n"), 0o644))

	discovered := domain.DiscoveredTool{
		Path:         domain.UserTool("alice", "utils", "shout", ""),
		Description:  "d",
		FileLocation: location,
		Parameters:   []domain.ParameterDefinition{{Name: "text", Required: true, TypeName: "string"}},
	}
	client := newTestClient(t, Options{Discoverer: &staticDiscoverer{tools: []domain.DiscoveredTool{discovered}}})
	ctx := context.Background()

	_, err := client.DiscoverTools(ctx)
	require.NoError(t, err)

	out, err := client.ExecTool(ctx, "/alice/utils/shout", map[string]any{"text": "quiet"})
	require.NoError(t, err)
	require.Equal(t, "QUIET", out)
}

func TestExecToolExposesAggregateParams(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()
	path := domain.UserTool("alice", "utils", "count", "")

	_, err := client.AddTool(ctx, path, "d", "len(params)", nil)
	require.NoError(t, err)

	out, err := client.ExecTool(ctx, "/alice/utils/count", map[string]any{
		"declared": "no", "extra": float64(1), "more": true,
	})
	require.NoError(t, err)
	require.Equal(t, "3", out)
}

func TestExecToolSystemFallbacks(t *testing.T) {
	client := newTestClient(t, Options{})
	ctx := context.Background()

	out, err := client.ExecTool(ctx, "/bin/tcl_execute", map[string]any{"script": "6 * 7"})
	require.NoError(t, err)
	require.Equal(t, "42", out)

	_, err = client.ExecTool(ctx, "/bin/tcl_execute", map[string]any{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Missing required parameter: script")

	out, err = client.ExecTool(ctx, "/bin/tcl_tool_list", map[string]any{"namespace": "sbin"})
	require.NoError(t, err)
	require.Contains(t, out, "/sbin/tcl_tool_add")
	require.Contains(t, out, "/sbin/tcl_tool_remove")

	_, err = client.ExecTool(ctx, "/bin/no_such_tool", map[string]any{})
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeNotFound))

	_, err = client.ExecTool(ctx, "not-a-path", map[string]any{})
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeInvalidPath))
}

func TestRenderLiteral(t *testing.T) {
	require.Equal(t, `"he said \"hi\""`, renderLiteral(`he said "hi"`))
	require.Equal(t, "2", renderLiteral(float64(2)))
	require.Equal(t, "2.5", renderLiteral(float64(2.5)))
	require.Equal(t, "True", renderLiteral(true))
	require.Equal(t, "None", renderLiteral(nil))
	require.Equal(t, `[1, "two", False]`, renderLiteral([]any{float64(1), "two", false}))
	require.Equal(t, `{"a": 1, "b": "x"}`, renderLiteral(map[string]any{"b": "x", "a": float64(1)}))
}

func TestEndToEndLifecycle(t *testing.T) {
	root := t.TempDir()
	openStore := func() (Store, error) {
		return store.Open(root, zap.NewNop())
	}
	client := newTestClient(t, Options{OpenStore: openStore})
	ctx := context.Background()

	out, err := client.InitializePersistence(ctx)
	require.NoError(t, err)
	require.Equal(t, "Persistence initialized. Loaded 0 tools from storage.", out)

	path, err := domain.ParsePath("/bob/math/add:1.0")
	require.NoError(t, err)
	_, err = client.AddTool(ctx, path, "Adds two numbers", "a + b", []domain.ParameterDefinition{
		{Name: "a", Required: true, TypeName: "number"},
		{Name: "b", Required: true, TypeName: "number"},
	})
	require.NoError(t, err)

	result, err := client.ExecuteCustomTool(ctx, path, map[string]any{"a": float64(2), "b": float64(3)})
	require.NoError(t, err)
	require.Equal(t, "5", result)

	paths, err := client.ListTools(ctx, "bob", "")
	require.NoError(t, err)
	require.Equal(t, []string{"/bob/math/add:1.0"}, paths)

	_, err = client.RemoveTool(ctx, path)
	require.NoError(t, err)

	_, err = client.ExecuteCustomTool(ctx, path, map[string]any{"a": float64(2), "b": float64(3)})
	require.Error(t, err)
	require.True(t, domain.HasCode(err, domain.CodeNotFound))
}
