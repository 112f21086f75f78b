// Package executor hosts the single-owner actor that serializes all
// interpreter access and all tool-table mutation. Callers submit
// commands through a bounded queue and await a dedicated reply; the
// actor processes one command to completion at a time, so the
// interpreter and the tool maps need no locking.
package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"tclmcp/internal/discovery"
	"tclmcp/internal/domain"
	"tclmcp/internal/runtime"
	"tclmcp/internal/store"
	"tclmcp/internal/telemetry"
)

// Store is the persistence surface the actor consumes. The in-memory
// tool map is authoritative; the store is a best-effort mirror.
type Store interface {
	Save(tool domain.ToolDefinition) error
	List(namespaceFilter string) ([]domain.ToolDefinition, error)
	Delete(path domain.ToolPath) (bool, error)
}

// Discoverer scans the filesystem for tool scripts.
type Discoverer interface {
	Discover() ([]domain.DiscoveredTool, error)
}

// Options configures a spawned executor.
type Options struct {
	// Runtime is the script interpreter the actor owns. Required.
	Runtime runtime.Runtime

	// QueueCapacity bounds the command queue; submission blocks when
	// the queue is full. Defaults to domain.DefaultQueueCapacity.
	QueueCapacity int

	// Discoverer scans for filesystem tools. Defaults to a scanner
	// over domain.DefaultToolsDir.
	Discoverer Discoverer

	// OpenStore opens the persistence store on first use. Defaults to
	// a file store under the user data directory.
	OpenStore func() (Store, error)

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// paramsKey is the interpreter variable holding every supplied
// argument, declared or not, when a tool runs through ExecTool.
const paramsKey = "params"

type actor struct {
	runtime         runtime.Runtime
	customTools     map[domain.ToolPath]domain.ToolDefinition
	discoveredTools map[domain.ToolPath]domain.DiscoveredTool
	discoverer      Discoverer
	store           Store
	openStore       func() (Store, error)
	logger          *zap.Logger
	metrics         *telemetry.Metrics
}

func newActor(opts Options) *actor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	discoverer := opts.Discoverer
	if discoverer == nil {
		discoverer = discovery.NewScanner(domain.DefaultToolsDir, logger)
	}
	openStore := opts.OpenStore
	if openStore == nil {
		openStore = func() (Store, error) {
			return store.Open(store.DefaultRoot(), logger)
		}
	}
	return &actor{
		runtime:         opts.Runtime,
		customTools:     make(map[domain.ToolPath]domain.ToolDefinition),
		discoveredTools: make(map[domain.ToolPath]domain.DiscoveredTool),
		discoverer:      discoverer,
		openStore:       openStore,
		logger:          logger.Named("executor"),
		metrics:         opts.Metrics,
	}
}

func (a *actor) eval(script string) (string, error) {
	out, err := a.runtime.Eval(script)
	a.metrics.ObserveEval(err)
	if err != nil {
		return "", domain.E(domain.CodeInterpreter, "executor.Execute", err.Error(), err)
	}
	return out, nil
}

func (a *actor) addTool(path domain.ToolPath, description, script string, parameters []domain.ParameterDefinition) (string, error) {
	if path.IsSystem() {
		return "", domain.E(domain.CodeNamespaceViolation, "executor.AddTool",
			fmt.Sprintf("can only add tools to a user namespace, not %s", path), nil)
	}
	if _, exists := a.customTools[path]; exists {
		return "", domain.E(domain.CodeAlreadyExists, "executor.AddTool",
			fmt.Sprintf("Tool '%s' already exists", path), nil)
	}

	// First mutation lazily brings up persistence so previously stored
	// tools are visible before anything new lands. Failure degrades to
	// memory-only operation.
	if a.store == nil {
		if err := a.initStore(); err != nil {
			a.logger.Warn("persistence unavailable, continuing memory-only", zap.Error(err))
		}
	}

	tool := domain.ToolDefinition{
		Path:        path,
		Description: description,
		Script:      script,
		Parameters:  parameters,
	}

	persisted := false
	if a.store != nil {
		if err := a.store.Save(tool); err != nil {
			a.metrics.ObservePersistenceFailure()
			a.logger.Warn("failed to persist tool", zap.String("path", path.String()), zap.Error(err))
		} else {
			persisted = true
		}
	}

	a.customTools[path] = tool
	a.metrics.SetToolCounts(len(a.customTools), len(a.discoveredTools))

	if persisted {
		return fmt.Sprintf("Tool '%s' added successfully and persisted", path), nil
	}
	return fmt.Sprintf("Tool '%s' added to memory (persistence unavailable)", path), nil
}

func (a *actor) removeTool(path domain.ToolPath) (string, error) {
	if path.IsSystem() {
		return "", domain.E(domain.CodeNamespaceViolation, "executor.RemoveTool",
			fmt.Sprintf("Cannot remove system tool '%s'", path), nil)
	}

	_, inMemory := a.customTools[path]
	delete(a.customTools, path)

	removedFromStore := false
	if a.store != nil {
		removed, err := a.store.Delete(path)
		if err != nil {
			a.metrics.ObservePersistenceFailure()
			a.logger.Warn("failed to delete persisted tool", zap.String("path", path.String()), zap.Error(err))
		} else {
			removedFromStore = removed
		}
	}

	if !inMemory && !removedFromStore {
		return "", domain.E(domain.CodeNotFound, "executor.RemoveTool",
			fmt.Sprintf("Tool '%s' not found", path), nil)
	}
	a.metrics.SetToolCounts(len(a.customTools), len(a.discoveredTools))
	return fmt.Sprintf("Tool '%s' removed successfully", path), nil
}

func (a *actor) listTools(namespace, filter string) []string {
	var tools []string
	appendMatch := func(path domain.ToolPath) {
		if namespace != "" && !path.Namespace.Matches(namespace) {
			return
		}
		s := path.String()
		if filter != "" && !strings.Contains(s, filter) {
			return
		}
		tools = append(tools, s)
	}

	for _, path := range domain.SystemTools() {
		appendMatch(path)
	}
	for path := range a.customTools {
		appendMatch(path)
	}
	for path := range a.discoveredTools {
		appendMatch(path)
	}

	sort.Strings(tools)
	return tools
}

func (a *actor) executeCustomTool(path domain.ToolPath, params map[string]any) (string, error) {
	tool, ok := a.customTools[path]
	if !ok {
		return "", domain.E(domain.CodeNotFound, "executor.ExecuteCustomTool",
			fmt.Sprintf("Tool '%s' not found", path), nil)
	}
	if err := a.bindParameters("executor.ExecuteCustomTool", tool.Parameters, params); err != nil {
		return "", err
	}
	return a.eval(tool.Script)
}

func (a *actor) getToolDefinitions() []domain.ToolDefinition {
	tools := make([]domain.ToolDefinition, 0, len(a.customTools)+len(a.discoveredTools))
	for _, tool := range a.customTools {
		tools = append(tools, tool)
	}
	for _, discovered := range a.discoveredTools {
		tools = append(tools, domain.ToolDefinition{
			Path:        discovered.Path,
			Description: discovered.Description,
			Script:      fmt.Sprintf("# Tool loaded from: %s", discovered.FileLocation),
			Parameters:  discovered.Parameters,
		})
	}
	return tools
}

func (a *actor) initializePersistence() (string, error) {
	if a.store != nil {
		return "Persistence already initialized", nil
	}
	stored, err := a.openAndLoadStore()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Persistence initialized. Loaded %d tools from storage.", stored), nil
}

// initStore is the lazy variant used by addTool: failures are reported
// but already-degraded state stays usable.
func (a *actor) initStore() error {
	_, err := a.openAndLoadStore()
	return err
}

func (a *actor) openAndLoadStore() (int, error) {
	s, err := a.openStore()
	if err != nil {
		return 0, domain.Wrap(domain.CodePersistence, "executor.InitializePersistence", err)
	}
	stored, err := s.List("")
	if err != nil {
		return 0, domain.Wrap(domain.CodePersistence, "executor.InitializePersistence", err)
	}
	for _, tool := range stored {
		if !tool.Path.IsSystem() {
			a.customTools[tool.Path] = tool
		}
	}
	a.store = s
	a.metrics.SetToolCounts(len(a.customTools), len(a.discoveredTools))
	a.logger.Info("persistence initialized", zap.Int("loaded", len(stored)))
	return len(stored), nil
}

func (a *actor) execTool(pathString string, params map[string]any) (string, error) {
	path, err := domain.ParsePath(pathString)
	if err != nil {
		return "", err
	}

	if tool, ok := a.customTools[path]; ok {
		if err := a.bindParameters("executor.ExecTool", tool.Parameters, params); err != nil {
			return "", err
		}
		if err := a.bindParamsAggregate(params); err != nil {
			return "", err
		}
		return a.eval(tool.Script)
	}

	if discovered, ok := a.discoveredTools[path]; ok {
		script, err := os.ReadFile(discovered.FileLocation)
		if err != nil {
			return "", domain.E(domain.CodeDiscovery, "executor.ExecTool", "", err)
		}
		if err := a.bindParameters("executor.ExecTool", discovered.Parameters, params); err != nil {
			return "", err
		}
		return a.eval(string(script))
	}

	switch pathString {
	case "/bin/tcl_execute":
		script, ok := params["script"].(string)
		if !ok {
			return "", domain.E(domain.CodeMissingParameter, "executor.ExecTool",
				"Missing required parameter: script", nil)
		}
		return a.eval(script)
	case "/bin/tcl_tool_list":
		namespace, _ := params["namespace"].(string)
		filter, _ := params["filter"].(string)
		return strings.Join(a.listTools(namespace, filter), "\n"), nil
	}

	return "", domain.E(domain.CodeNotFound, "executor.ExecTool",
		fmt.Sprintf("Tool '%s' not found", pathString), nil)
}

func (a *actor) discoverTools() (string, error) {
	discovered, err := a.discoverer.Discover()
	if err != nil {
		return "", domain.Wrap(domain.CodeDiscovery, "executor.DiscoverTools", err)
	}
	// Merge is additive: entries whose backing file has disappeared
	// since the previous scan are kept.
	for _, tool := range discovered {
		a.discoveredTools[tool.Path] = tool
	}
	a.metrics.SetToolCounts(len(a.customTools), len(a.discoveredTools))
	return fmt.Sprintf("Discovered %d tools from filesystem", len(discovered)), nil
}

// bindParameters validates required parameters up front, then binds
// each supplied declared parameter as an interpreter variable. The
// required check runs before any binding so a rejected call leaves no
// partial state and never reaches the interpreter.
func (a *actor) bindParameters(op string, declared []domain.ParameterDefinition, params map[string]any) error {
	for _, def := range declared {
		if _, ok := params[def.Name]; !ok && def.Required {
			return domain.E(domain.CodeMissingParameter, op,
				fmt.Sprintf("Missing required parameter: %s", def.Name), nil)
		}
	}
	for _, def := range declared {
		value, ok := params[def.Name]
		if !ok {
			continue
		}
		if err := a.runtime.SetVar(def.Name, renderLiteral(value)); err != nil {
			return domain.E(domain.CodeInterpreter, op, "", err)
		}
	}
	return nil
}

// bindParamsAggregate exposes every supplied argument, declared or
// not, under one dictionary variable.
func (a *actor) bindParamsAggregate(params map[string]any) error {
	if err := a.runtime.SetVar(paramsKey, renderLiteral(map[string]any(params))); err != nil {
		return domain.E(domain.CodeInterpreter, "executor.ExecTool", "", err)
	}
	return nil
}

// renderLiteral converts a decoded JSON value to interpreter-literal
// text. Strings are quoted with internal quotes escaped; booleans and
// null use the interpreter's spelling; arrays and objects render
// recursively; numbers keep their JSON textual form.
func renderLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "None"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, key := range keys {
			parts[i] = fmt.Sprintf("%q: %s", key, renderLiteral(v[key]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(v))
		}
		return string(data)
	}
}

func (a *actor) handle(cmd command) {
	start := time.Now()
	err := cmd.run(a)
	a.metrics.ObserveCommand(cmd.kind(), time.Since(start), err)
}
