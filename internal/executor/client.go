package executor

import (
	"context"
	"errors"

	"tclmcp/internal/domain"
)

// command is one queued unit of work. run executes on the actor
// goroutine and delivers the reply; it returns the error it replied
// with so the loop can label metrics.
type command interface {
	kind() string
	run(a *actor) error
}

type result[T any] struct {
	value T
	err   error
}

// reply is the single-use response slot matched 1:1 to a command.
// Buffered so the actor never blocks on a caller that gave up.
type reply[T any] chan result[T]

func newReply[T any]() reply[T] {
	return make(reply[T], 1)
}

func (r reply[T]) deliver(value T, err error) error {
	r <- result[T]{value: value, err: err}
	return err
}

type executeCmd struct {
	script string
	reply  reply[string]
}

func (c executeCmd) kind() string       { return "execute" }
func (c executeCmd) run(a *actor) error { return c.reply.deliver(a.eval(c.script)) }

type addToolCmd struct {
	path        domain.ToolPath
	description string
	script      string
	parameters  []domain.ParameterDefinition
	reply       reply[string]
}

func (c addToolCmd) kind() string { return "add_tool" }
func (c addToolCmd) run(a *actor) error {
	return c.reply.deliver(a.addTool(c.path, c.description, c.script, c.parameters))
}

type removeToolCmd struct {
	path  domain.ToolPath
	reply reply[string]
}

func (c removeToolCmd) kind() string       { return "remove_tool" }
func (c removeToolCmd) run(a *actor) error { return c.reply.deliver(a.removeTool(c.path)) }

type listToolsCmd struct {
	namespace string
	filter    string
	reply     reply[[]string]
}

func (c listToolsCmd) kind() string { return "list_tools" }
func (c listToolsCmd) run(a *actor) error {
	return c.reply.deliver(a.listTools(c.namespace, c.filter), nil)
}

type executeCustomToolCmd struct {
	path   domain.ToolPath
	params map[string]any
	reply  reply[string]
}

func (c executeCustomToolCmd) kind() string { return "execute_custom_tool" }
func (c executeCustomToolCmd) run(a *actor) error {
	return c.reply.deliver(a.executeCustomTool(c.path, c.params))
}

type getToolDefinitionsCmd struct {
	reply reply[[]domain.ToolDefinition]
}

func (c getToolDefinitionsCmd) kind() string { return "get_tool_definitions" }
func (c getToolDefinitionsCmd) run(a *actor) error {
	return c.reply.deliver(a.getToolDefinitions(), nil)
}

type initializePersistenceCmd struct {
	reply reply[string]
}

func (c initializePersistenceCmd) kind() string { return "initialize_persistence" }
func (c initializePersistenceCmd) run(a *actor) error {
	return c.reply.deliver(a.initializePersistence())
}

type execToolCmd struct {
	pathString string
	params     map[string]any
	reply      reply[string]
}

func (c execToolCmd) kind() string       { return "exec_tool" }
func (c execToolCmd) run(a *actor) error { return c.reply.deliver(a.execTool(c.pathString, c.params)) }

type discoverToolsCmd struct {
	reply reply[string]
}

func (c discoverToolsCmd) kind() string       { return "discover_tools" }
func (c discoverToolsCmd) run(a *actor) error { return c.reply.deliver(a.discoverTools()) }

// ErrStopped is returned when the executor loop has exited.
var ErrStopped = errors.New("executor stopped")

// Client submits commands to a running executor. Safe for concurrent
// use by any number of goroutines; ordering across concurrent callers
// is whatever the queue yields.
type Client struct {
	commands chan command
	done     chan struct{}
}

// Spawn starts the executor loop and returns its client. The loop
// owns opts.Runtime exclusively until ctx is cancelled.
func Spawn(ctx context.Context, opts Options) *Client {
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = domain.DefaultQueueCapacity
	}
	client := &Client{
		commands: make(chan command, capacity),
		done:     make(chan struct{}),
	}

	a := newActor(opts)
	go func() {
		defer close(client.done)
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-client.commands:
				a.handle(cmd)
			}
		}
	}()
	return client
}

// submit enqueues a command, blocking while the queue is full. A
// caller that gives up leaves the command to run to completion; its
// unread reply is discarded.
func submit[T any](ctx context.Context, c *Client, cmd command, r reply[T]) (T, error) {
	var zero T
	select {
	case c.commands <- cmd:
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-r:
		return res.value, res.err
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Execute evaluates a script on the actor's interpreter.
func (c *Client) Execute(ctx context.Context, script string) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, executeCmd{script: script, reply: r}, r)
}

// AddTool registers a user tool and mirrors it to storage best-effort.
func (c *Client) AddTool(ctx context.Context, path domain.ToolPath, description, script string, parameters []domain.ParameterDefinition) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, addToolCmd{
		path:        path,
		description: description,
		script:      script,
		parameters:  parameters,
		reply:       r,
	}, r)
}

// RemoveTool deletes a user tool from memory and storage.
func (c *Client) RemoveTool(ctx context.Context, path domain.ToolPath) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, removeToolCmd{path: path, reply: r}, r)
}

// ListTools returns the sorted canonical paths of system, custom and
// discovered tools, optionally filtered by namespace keyword and
// substring.
func (c *Client) ListTools(ctx context.Context, namespace, filter string) ([]string, error) {
	r := newReply[[]string]()
	return submit(ctx, c, listToolsCmd{namespace: namespace, filter: filter, reply: r}, r)
}

// ExecuteCustomTool runs a registered custom tool with the supplied
// arguments bound as interpreter variables.
func (c *Client) ExecuteCustomTool(ctx context.Context, path domain.ToolPath, params map[string]any) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, executeCustomToolCmd{path: path, params: params, reply: r}, r)
}

// GetToolDefinitions snapshots every custom and discovered tool.
func (c *Client) GetToolDefinitions(ctx context.Context) ([]domain.ToolDefinition, error) {
	r := newReply[[]domain.ToolDefinition]()
	return submit(ctx, c, getToolDefinitionsCmd{reply: r}, r)
}

// InitializePersistence opens the store and loads existing user tools.
// Idempotent.
func (c *Client) InitializePersistence(ctx context.Context) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, initializePersistenceCmd{reply: r}, r)
}

// ExecTool resolves a canonical path string against custom tools,
// discovered tools and the built-in system tools, then runs the match.
func (c *Client) ExecTool(ctx context.Context, pathString string, params map[string]any) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, execToolCmd{pathString: pathString, params: params, reply: r}, r)
}

// DiscoverTools rescans the tools directory and merges the results.
func (c *Client) DiscoverTools(ctx context.Context) (string, error) {
	r := newReply[string]()
	return submit(ctx, c, discoverToolsCmd{reply: r}, r)
}
