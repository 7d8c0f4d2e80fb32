// Package agentcmd implements the Agent Command Executor (C7): translates
// the structured commands an agentic-loop iteration emits into sandbox
// calls. Grounded on the teacher's pkg/agent/tool_executor.go — same
// per-command independent-execution contract, generalized from MCP tool
// calls to this system's write/read/delete/execute/db_query vocabulary.
package agentcmd

import (
	"context"

	"github.com/turbobackend/worker/internal/sandbox"
)

// Command types recognized in an agent iteration's "commands" list.
const (
	TypeExecute = "execute"
	TypeWrite   = "write"
	TypeRead    = "read"
	TypeDelete  = "delete"
	TypeDBQuery = "db_query"
)

// Command is one structured instruction from the agent.
type Command struct {
	Type       string `json:"type"`
	Command    string `json:"command,omitempty"`
	Path       string `json:"path,omitempty"`
	Content    string `json:"content,omitempty"`
	Query      string `json:"query,omitempty"`
	SchemaName string `json:"schemaName,omitempty"`
	QueryType  string `json:"queryType,omitempty"`
}

// Result is the outcome of executing one Command.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs a batch of commands against a sandbox.
type Executor struct {
	sandbox *sandbox.Sandbox
}

func NewExecutor(sb *sandbox.Sandbox) *Executor {
	return &Executor{sandbox: sb}
}

// Execute runs each command independently; one command's failure never
// aborts the rest of the batch (§4.7). db_query commands are accepted and
// returned to the caller for later deferred execution — they are not run
// here.
func (e *Executor) Execute(ctx context.Context, commands []Command) ([]Result, []Command) {
	results := make([]Result, len(commands))
	var deferredQueries []Command

	for i, cmd := range commands {
		switch cmd.Type {
		case TypeExecute:
			results[i] = e.execute(ctx, cmd)
		case TypeWrite:
			results[i] = e.write(ctx, cmd)
		case TypeRead:
			results[i] = e.read(ctx, cmd)
		case TypeDelete:
			results[i] = e.delete(ctx, cmd)
		case TypeDBQuery:
			deferredQueries = append(deferredQueries, cmd)
			results[i] = Result{Success: true, Output: "query accepted for deferred execution"}
		default:
			results[i] = Result{Success: false, Error: "unknown command type: " + cmd.Type}
		}
	}

	return results, deferredQueries
}

func (e *Executor) execute(ctx context.Context, cmd Command) Result {
	resp, err := e.sandbox.Exec(ctx, cmd.Command)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	if resp.ExitCode != 0 {
		return Result{Success: false, Error: resp.Stderr, Output: resp.Stdout}
	}
	return Result{Success: true, Output: resp.Stdout}
}

func (e *Executor) write(ctx context.Context, cmd Command) Result {
	if err := e.sandbox.Write(ctx, cmd.Path, cmd.Content); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}

func (e *Executor) read(ctx context.Context, cmd Command) Result {
	content, err := e.sandbox.Read(ctx, cmd.Path)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Output: content}
}

func (e *Executor) delete(ctx context.Context, cmd Command) Result {
	if err := e.sandbox.Delete(ctx, cmd.Path); err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true}
}
