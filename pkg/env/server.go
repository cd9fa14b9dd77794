package env

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// simulatorServer adapts a Simulator to MCP tool handlers.
type simulatorServer struct {
	sim Simulator

	mu    sync.Mutex
	valid []string
}

// NewSimulatorServer exposes sim as an MCP server with the load, reset,
// step, get_variations, get_valid_actions and get_task_description tools.
// Calls are serialized.
func NewSimulatorServer(sim Simulator) *server.MCPServer {
	s := &simulatorServer{sim: sim}
	srv := server.NewMCPServer("rbench-simulator", "0.1.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool(ToolLoad,
		mcp.WithDescription("Load a task variation"),
		mcp.WithString("task", mcp.Required()),
		mcp.WithNumber("variation", mcp.Required()),
		mcp.WithString("simplifications"),
	), s.load)
	srv.AddTool(mcp.NewTool(ToolReset, mcp.WithDescription("Reset the loaded variation")), s.reset)
	srv.AddTool(mcp.NewTool(ToolStep,
		mcp.WithDescription("Execute one action"),
		mcp.WithString("action", mcp.Required()),
	), s.step)
	srv.AddTool(mcp.NewTool(ToolGetVariations,
		mcp.WithDescription("List the variations of a task in a split"),
		mcp.WithString("task", mcp.Required()),
		mcp.WithString("split"),
	), s.variations)
	srv.AddTool(mcp.NewTool(ToolGetValidActions, mcp.WithDescription("List the currently valid actions")), s.validActions)
	srv.AddTool(mcp.NewTool(ToolGetTaskDesc, mcp.WithDescription("Describe the loaded task")), s.taskDescription)
	return srv
}

// ServeStdio serves sim over stdin/stdout until the stream closes.
func ServeStdio(sim Simulator) error {
	return server.ServeStdio(NewSimulatorServer(sim))
}

func (s *simulatorServer) load(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	task, _ := args["task"].(string)
	if task == "" {
		return errorResult(fmt.Errorf("task is required")), nil
	}
	variation := intArg(args["variation"])
	simpl, _ := args["simplifications"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sim.Load(ctx, task, variation, simpl); err != nil {
		return errorResult(err), nil
	}
	s.valid = nil
	return textResult("ok"), nil
}

func (s *simulatorServer) reset(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, info, err := s.sim.Reset(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	s.valid = info.Valid
	return jsonResult(stepReply{Observation: obs, Info: info})
}

func (s *simulatorServer) step(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, _ := arguments(req)["action"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	obs, reward, done, info, err := s.sim.Step(ctx, action)
	if err != nil {
		return errorResult(err), nil
	}
	s.valid = info.Valid
	return jsonResult(stepReply{Observation: obs, Reward: reward, Done: done, Info: info})
}

func (s *simulatorServer) variations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	task, _ := args["task"].(string)
	split, _ := args["split"].(string)
	if split == "" {
		split = "dev"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	vars, err := s.sim.Variations(ctx, task, split)
	if err != nil {
		return errorResult(err), nil
	}
	if vars == nil {
		vars = []int{}
	}
	return jsonResult(vars)
}

func (s *simulatorServer) validActions(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	valid := s.valid
	if valid == nil {
		valid = []string{}
	}
	return jsonResult(valid)
}

func (s *simulatorServer) taskDescription(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, err := s.sim.TaskDescription(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return textResult(desc), nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	if args == nil {
		return map[string]any{}
	}
	return args
}

func intArg(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	res := textResult(err.Error())
	res.IsError = true
	return res
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}
