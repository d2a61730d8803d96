package healing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/akkash/testbro-sub001/browser"
	"github.com/akkash/testbro-sub001/kit"
)

// PageOpener opens a live page for a healing run. Satisfied by
// browser.Manager.
type PageOpener interface {
	Open(ctx context.Context, pageURL string) (browser.Page, error)
}

// Enqueuer accepts a healing request for deferred execution and returns
// the id of the pending session it registered. Satisfied by
// queue.Scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, req Request, pageURL string, priority int) (string, error)
}

// Service exposes the orchestrator over transports. It owns page
// lifecycle for synchronous runs; queued runs open their page at drain
// time.
type Service struct {
	orc   *Orchestrator
	pages PageOpener
	queue Enqueuer
}

// NewService wires the orchestrator to its transports. queue may be nil,
// in which case healing_queue reports unavailable.
func NewService(orc *Orchestrator, pages PageOpener, queue Enqueuer) *Service {
	return &Service{orc: orc, pages: pages, queue: queue}
}

// Orchestrator exposes the underlying workflow engine.
func (s *Service) Orchestrator() *Orchestrator { return s.orc }

// RegisterMCP registers healing tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerInitiateTool(srv)
	s.registerQueueTool(srv)
	s.registerStatusTool(srv)
	s.registerApproveTool(srv)
	s.registerRejectTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// InitiateArgs is the wire shape of a healing request: failure details
// plus the URL to open, since transports cannot carry a live page.
type InitiateArgs struct {
	ProjectID           string `json:"project_id,omitempty"`
	TestCaseID          string `json:"test_case_id"`
	ExecutionID         string `json:"execution_id,omitempty"`
	StepID              string `json:"step_id"`
	Selector            string `json:"selector"`
	ErrorMessage        string `json:"error_message"`
	StepName            string `json:"step_name,omitempty"`
	BaselineFingerprint string `json:"baseline_fingerprint,omitempty"`
	PageURL             string `json:"page_url"`
	Trigger             string `json:"trigger_type,omitempty"`
	Priority            int    `json:"priority,omitempty"`
}

func (a InitiateArgs) request() Request {
	trigger := Trigger(a.Trigger)
	switch trigger {
	case TriggerFailureDetection, TriggerScheduledCheck, TriggerManual:
	default:
		trigger = TriggerManual
	}
	return Request{
		ProjectID:   a.ProjectID,
		TestCaseID:  a.TestCaseID,
		ExecutionID: a.ExecutionID,
		Trigger:     trigger,
		Failure: FailureDetails{
			StepID:              a.StepID,
			Selector:            a.Selector,
			ErrorMessage:        a.ErrorMessage,
			StepName:            a.StepName,
			BaselineFingerprint: a.BaselineFingerprint,
		},
	}
}

func (a InitiateArgs) validate() error {
	switch {
	case a.TestCaseID == "":
		return fmt.Errorf("test_case_id is required")
	case a.StepID == "":
		return fmt.Errorf("step_id is required")
	case a.Selector == "":
		return fmt.Errorf("selector is required")
	case a.PageURL == "":
		return fmt.Errorf("page_url is required")
	}
	return nil
}

// Initiate opens the page and runs the workflow synchronously.
func (s *Service) Initiate(ctx context.Context, args InitiateArgs) (WorkflowResult, error) {
	if err := args.validate(); err != nil {
		return WorkflowResult{}, err
	}
	page, err := s.pages.Open(ctx, args.PageURL)
	if err != nil {
		return WorkflowResult{}, fmt.Errorf("healing: open page: %w", err)
	}
	defer page.Close()

	req := args.request()
	req.Page = page
	return s.orc.InitiateHealing(ctx, req), nil
}

// Queue defers the workflow and returns the pending session id
// immediately. The id can be polled with SessionStatus right away.
func (s *Service) Queue(ctx context.Context, args InitiateArgs) (string, error) {
	if err := args.validate(); err != nil {
		return "", err
	}
	if s.queue == nil {
		return "", fmt.Errorf("healing: queue not configured")
	}
	return s.queue.Enqueue(ctx, args.request(), args.PageURL, args.Priority)
}

var initiateProperties = map[string]any{
	"project_id":           map[string]any{"type": "string", "description": "Project owning the test case"},
	"test_case_id":         map[string]any{"type": "string", "description": "Test case containing the failed step"},
	"execution_id":         map[string]any{"type": "string", "description": "Test run the failure occurred in"},
	"step_id":              map[string]any{"type": "string", "description": "Failed step to repair"},
	"selector":             map[string]any{"type": "string", "description": "Broken locator"},
	"error_message":        map[string]any{"type": "string", "description": "Failure message from the runner"},
	"step_name":            map[string]any{"type": "string", "description": "Human-readable step intent"},
	"baseline_fingerprint": map[string]any{"type": "string", "description": "Page structure fingerprint from the last passing run"},
	"page_url":             map[string]any{"type": "string", "description": "URL of the page the step failed on"},
	"trigger_type":         map[string]any{"type": "string", "enum": []any{"failure_detection", "scheduled_check", "manual_trigger"}, "description": "What started the session (default manual_trigger)"},
}

var initiateRequired = []string{"test_case_id", "step_id", "selector", "error_message", "page_url"}

func decodeInitiate(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var a InitiateArgs
	if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &a}, nil
}

func (s *Service) registerInitiateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "healing_initiate",
		Description: "Repair a broken UI test locator synchronously. Returns the session outcome.",
		InputSchema: inputSchema(initiateProperties, initiateRequired),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Initiate(ctx, *req.(*InitiateArgs))
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInitiate)
}

func (s *Service) registerQueueTool(srv *mcp.Server) {
	props := map[string]any{}
	for k, v := range initiateProperties {
		props[k] = v
	}
	props["priority"] = map[string]any{"type": "integer", "description": "Scheduling priority, higher drains first (default 0)"}

	tool := &mcp.Tool{
		Name:        "healing_queue",
		Description: "Queue a locator repair for background execution. Returns the session id immediately; poll it with healing_status.",
		InputSchema: inputSchema(props, initiateRequired),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		id, err := s.Queue(ctx, *req.(*InitiateArgs))
		if err != nil {
			return nil, err
		}
		return map[string]string{"session_id": id}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeInitiate)
}

type sessionIDArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Service) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "healing_status",
		Description: "Get the full state of a healing session, including attempts and adaptations.",
		InputSchema: inputSchema(map[string]any{
			"session_id": map[string]any{"type": "string", "description": "Healing session id"},
		}, []string{"session_id"}),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.orc.SessionStatus(ctx, req.(*sessionIDArgs).SessionID)
	}
	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var a sessionIDArgs
		if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &a}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

type reviewArgs struct {
	SessionID string `json:"session_id"`
	Reviewer  string `json:"reviewer,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func decodeReview(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var a reviewArgs
	if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &a}, nil
}

var reviewSchema = inputSchema(map[string]any{
	"session_id": map[string]any{"type": "string", "description": "Session awaiting review"},
	"reviewer":   map[string]any{"type": "string", "description": "Who is deciding"},
	"notes":      map[string]any{"type": "string", "description": "Decision notes"},
}, []string{"session_id"})

func (s *Service) registerApproveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "healing_approve",
		Description: "Approve a session awaiting review, applying its pending locator change.",
		InputSchema: reviewSchema,
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		a := req.(*reviewArgs)
		return s.orc.ApproveHealing(ctx, a.SessionID, a.Reviewer, a.Notes), nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeReview)
}

func (s *Service) registerRejectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "healing_reject",
		Description: "Reject a session awaiting review, discarding its pending locator change.",
		InputSchema: reviewSchema,
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		a := req.(*reviewArgs)
		return s.orc.RejectHealing(ctx, a.SessionID, a.Reviewer, a.Notes), nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeReview)
}
