package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) handleScriptBook(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Topic string `json:"topic"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	topic := args.Topic
	if topic == "" {
		topic = "overview"
	}

	switch topic {
	case "overview":
		return textResult(s.overviewDoc()), nil
	case "basic_syntax":
		return textResult(basicSyntaxDoc), nil
	case "commands":
		return textResult(commandsDoc), nil
	case "examples":
		return textResult(examplesDoc), nil
	case "links":
		return textResult(linksDoc), nil
	default:
		return errorResult(fmt.Errorf(
			"unknown documentation topic: %s. Available topics: overview, basic_syntax, commands, examples, links",
			topic)), nil
	}
}

func (s *Server) overviewDoc() string {
	safety := "sandboxed"
	if !s.runtime.Safe {
		safety = "unrestricted"
	}
	return fmt.Sprintf(`# Scripting Runtime Overview

## Active Runtime
- Name: %s
- Version: %s
- Safety: %s
- Features: %s

## What is Starlark?
Starlark is a dialect of Python designed for embedding: deterministic,
hermetic and memory-safe. Scripts cannot touch the filesystem or the
network, which makes them safe to accept from remote callers.

## How tools work here
A tool is a script plus declared parameters. Supplied arguments are
bound as same-named variables before the script body runs. A script
that is a single expression returns its value; a multi-statement
script returns its "result" variable, or whatever it printed.

Use 'basic_syntax', 'commands', 'examples', or 'links' for more
specific information.`,
		s.runtime.Name, s.runtime.Version, safety, strings.Join(s.runtime.Features, ", "))
}

const basicSyntaxDoc = `# Basic Syntax

## Variables
` + "```python" + `
name = "Alice"
age = 30
greeting = "Hello, " + name
` + "```" + `

## Lists and dicts
` + "```python" + `
fruits = ["apple", "banana", "cherry"]
first = fruits[0]
count = len(fruits)
prices = {"apple": 3, "banana": 1}
` + "```" + `

## Control flow
` + "```python" + `
total = 0
for i in range(5):
    total += i

if age >= 18:
    label = "adult"
else:
    label = "minor"
` + "```" + `

## Functions
` + "```python" + `
def greet(name):
    return "Hello, " + name + "!"

result = greet("World")
` + "```"

const commandsDoc = `# Common Built-ins

## Strings
- len(s), s.upper(), s.lower(), s.strip()
- s.split(sep), sep.join(parts)
- s.startswith(p), s.endswith(p), s.replace(a, b)
- s[start:end:step] slicing, including s[::-1] to reverse

## Lists
- len(l), l[i], l[start:end]
- sorted(l), reversed(l), min(l), max(l)
- [f(x) for x in l if cond] comprehensions

## Dicts
- d[key], d.get(key, default), d.keys(), d.values(), d.items()

## Numbers and logic
- int(x), float(x), abs(x), divmod(a, b)
- and, or, not; == != < > <= >=

## Output
- print(value) - captured and returned when the script yields no value
- str(x), repr(x), type(x)`

const examplesDoc = `# Examples

## Example 1: Calculator
` + "```python" + `
def calculate(op, a, b):
    if op == "+":
        return a + b
    elif op == "-":
        return a - b
    elif op == "*":
        return a * b
    elif op == "/":
        if b == 0:
            fail("division by zero")
        return a / b
    fail("unknown operation: " + op)

result = calculate("+", 5, 3)
` + "```" + `

## Example 2: List processing
` + "```python" + `
numbers = [1, 2, 3, 4, 5]
total = 0
for n in numbers:
    total += n
result = {"sum": total, "max": max(numbers)}
` + "```" + `

## Example 3: String processing
` + "```python" + `
def word_count(text):
    return len(text.split())

def reverse_string(s):
    return s[::-1]

result = reverse_string("hello")
` + "```"

const linksDoc = `# Documentation Links

## Starlark
- Language spec: https://github.com/bazelbuild/starlark/blob/master/spec.md
- Go implementation: https://github.com/google/starlark-go
- API documentation: https://pkg.go.dev/go.starlark.net/starlark

## Related resources
- Starlark playground: https://starlark-go.appspot.com/
- Bazel Starlark docs: https://bazel.build/rules/language

Note: this runtime implements the Starlark dialect with while loops,
top-level control flow and recursion enabled.`
