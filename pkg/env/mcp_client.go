package env

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/reasoningbank/pkg/resilience"
)

const (
	defaultTimeout = 60 * time.Second
	defaultRetries = 2
	defaultBackoff = 200 * time.Millisecond
)

// Tool names exposed by a simulator server.
const (
	ToolLoad            = "load"
	ToolReset           = "reset"
	ToolStep            = "step"
	ToolGetVariations   = "get_variations"
	ToolGetValidActions = "get_valid_actions"
	ToolGetTaskDesc     = "get_task_description"
)

// ClientOption customizes an MCPSimulator.
type ClientOption func(*MCPSimulator)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *MCPSimulator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry sets how many times a failed transport call is retried and the
// initial backoff between attempts.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *MCPSimulator) {
		if retries >= 0 {
			c.retries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// MCPSimulator is a Simulator served by a remote MCP server.
type MCPSimulator struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retries   int
	backoff   time.Duration
}

// NewMCPSimulator wraps an initialized MCP client.
func NewMCPSimulator(c client.MCPClient, opts ...ClientOption) *MCPSimulator {
	s := &MCPSimulator{
		mcpClient: c,
		timeout:   defaultTimeout,
		retries:   defaultRetries,
		backoff:   defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStdioSimulator starts command as a subprocess speaking MCP over stdio.
// env entries have the form KEY=VALUE.
func NewStdioSimulator(ctx context.Context, command string, args, env []string, opts ...ClientOption) (*MCPSimulator, error) {
	stdioClient, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, err
	}
	if err := stdioClient.Start(ctx); err != nil {
		stdioClient.Close()
		return nil, err
	}
	if err := initialize(ctx, stdioClient); err != nil {
		stdioClient.Close()
		return nil, err
	}
	return NewMCPSimulator(stdioClient, opts...), nil
}

// NewInProcessSimulator connects to an MCP server running in this process.
func NewInProcessSimulator(ctx context.Context, sim Simulator, opts ...ClientOption) (*MCPSimulator, error) {
	inproc, err := client.NewInProcessClient(NewSimulatorServer(sim))
	if err != nil {
		return nil, err
	}
	if err := inproc.Start(ctx); err != nil {
		inproc.Close()
		return nil, err
	}
	if err := initialize(ctx, inproc); err != nil {
		inproc.Close()
		return nil, err
	}
	return NewMCPSimulator(inproc, opts...), nil
}

func initialize(ctx context.Context, c client.MCPClient) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "rbench",
		Version: "0.1.0",
	}
	_, err := c.Initialize(ctx, req)
	return err
}

var _ Simulator = (*MCPSimulator)(nil)

type stepReply struct {
	Observation string  `json:"observation"`
	Reward      float64 `json:"reward"`
	Done        bool    `json:"done"`
	Info        Info    `json:"info"`
}

// Load selects the task variation on the server.
func (s *MCPSimulator) Load(ctx context.Context, taskName string, variation int, simplifications string) error {
	_, err := s.call(ctx, ToolLoad, map[string]any{
		"task":            taskName,
		"variation":       variation,
		"simplifications": simplifications,
	})
	return err
}

// Reset resets the loaded variation.
func (s *MCPSimulator) Reset(ctx context.Context) (string, Info, error) {
	var reply stepReply
	if err := s.callJSON(ctx, ToolReset, nil, &reply); err != nil {
		return "", Info{}, err
	}
	return reply.Observation, reply.Info, nil
}

// Step executes one action.
func (s *MCPSimulator) Step(ctx context.Context, action string) (string, float64, bool, Info, error) {
	var reply stepReply
	if err := s.callJSON(ctx, ToolStep, map[string]any{"action": action}, &reply); err != nil {
		return "", 0, false, Info{}, err
	}
	return reply.Observation, reply.Reward, reply.Done, reply.Info, nil
}

// Variations lists the variations of taskName in split.
func (s *MCPSimulator) Variations(ctx context.Context, taskName, split string) ([]int, error) {
	var vars []int
	err := s.callJSON(ctx, ToolGetVariations, map[string]any{"task": taskName, "split": split}, &vars)
	return vars, err
}

// ValidActions returns the server's current valid actions.
func (s *MCPSimulator) ValidActions(ctx context.Context) ([]string, error) {
	var valid []string
	err := s.callJSON(ctx, ToolGetValidActions, nil, &valid)
	return valid, err
}

// TaskDescription returns the description of the loaded task.
func (s *MCPSimulator) TaskDescription(ctx context.Context) (string, error) {
	return s.call(ctx, ToolGetTaskDesc, nil)
}

// Close closes the client connection.
func (s *MCPSimulator) Close() error {
	return s.mcpClient.Close()
}

func (s *MCPSimulator) callJSON(ctx context.Context, tool string, args map[string]any, out any) error {
	text, err := s.call(ctx, tool, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("decode %s reply: %w", tool, err)
	}
	return nil
}

// call invokes tool, retrying transport failures. A tool-level error is
// returned without retry.
func (s *MCPSimulator) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	rc := resilience.DefaultRetryConfig().
		WithMaxAttempts(s.retries + 1).
		WithInitialDelay(s.backoff).
		WithIsRecoverable(func(err error) bool {
			return err != nil && ctx.Err() == nil
		})
	res, err := resilience.DoValue(ctx, rc, func() (*mcp.CallToolResult, error) {
		callCtx, cancel := s.withTimeout(ctx)
		defer cancel()
		return s.mcpClient.CallTool(callCtx, req)
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", tool, err)
	}
	text := textContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("%s: %s", tool, text)
	}
	return text, nil
}

func (s *MCPSimulator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
