// Package mcp exposes the neonflow command surface as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/neonflow"
	"github.com/aretw0/neonflow/internal/logging"
	"github.com/aretw0/neonflow/internal/presentation/graph"
	"github.com/aretw0/neonflow/pkg/domain"
	"github.com/aretw0/neonflow/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// WorkflowsURI is the resource listing the loaded workflows.
const WorkflowsURI = "neonflow://workflows"

// WorkflowInfo summarises a workflow for agents.
type WorkflowInfo struct {
	Name  string `json:"name" jsonschema_description:"Workflow name"`
	Model string `json:"model" jsonschema_description:"Model the workflow runs on"`
	Nodes int    `json:"nodes" jsonschema_description:"Number of nodes"`
}

// ListResponse is the result of list_workflows.
type ListResponse struct {
	Workflows []WorkflowInfo `json:"workflows"`
}

// RunArgs are the arguments of run_workflow.
type RunArgs struct {
	Workflow string `json:"workflow"`
	Input    string `json:"input"`
}

// RunAllArgs are the arguments of run_all_workflows.
type RunAllArgs struct {
	Input string `json:"input"`
}

// RunResponse reports finished runs.
type RunResponse struct {
	Runs []*domain.RunRecord `json:"runs" jsonschema_description:"One record per run, with status and final output"`
}

// MessageArgs are the arguments of send_message.
type MessageArgs struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

// MessageResponse is the result of send_message.
type MessageResponse struct {
	Text string              `json:"text"`
	Runs []*domain.RunRecord `json:"runs,omitempty"`
}

// Server wraps a session manager and exposes it as an MCP Server.
type Server struct {
	manager   *session.Manager
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(m *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		manager:   m,
		mcpServer: server.NewMCPServer("neonflow-mcp", strings.TrimSpace(neonflow.Version)),
		logger:    logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("List the workflows that can be run."),
		mcp.WithOutputSchema[ListResponse](),
	), mcp.NewStructuredToolHandler(s.handleList))

	s.mcpServer.AddTool(mcp.NewTool("run_workflow",
		mcp.WithDescription("Run one workflow to completion with the given input and return its final output."),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("input", mcp.Description("Initial input, available to prompts as {{nminput}}")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleRun))

	s.mcpServer.AddTool(mcp.NewTool("run_all_workflows",
		mcp.WithDescription("Run every workflow concurrently with the same input."),
		mcp.WithString("input", mcp.Description("Initial input for every workflow")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleRunAll))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a chat line to a session. Lines starting with / are commands (/help lists them)."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier chosen by the caller")),
		mcp.WithString("line", mcp.Required(), mcp.Description("Command or message")),
		mcp.WithOutputSchema[MessageResponse](),
	), mcp.NewStructuredToolHandler(s.handleMessage))

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Get a workflow graph as a Mermaid flowchart."),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow name")),
	), s.handleGraph)
}

// Handler methods for structured tools

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest, _ map[string]any) (ListResponse, error) {
	wfs := s.manager.Workflows()
	resp := ListResponse{Workflows: make([]WorkflowInfo, len(wfs))}
	for i, wf := range wfs {
		resp.Workflows[i] = WorkflowInfo{Name: wf.Name, Model: wf.Model, Nodes: len(wf.Nodes)}
	}
	return resp, nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest, args RunArgs) (RunResponse, error) {
	if args.Workflow == "" {
		return RunResponse{}, errors.New("workflow is required")
	}
	res, err := s.manager.RunWorkflow(ctx, args.Workflow, args.Input)
	if res == nil {
		return RunResponse{}, fmt.Errorf("run failed: %w", err)
	}
	if err != nil {
		s.logger.Warn("MCP run did not complete", "workflow", args.Workflow, "err", err)
	}
	return RunResponse{Runs: []*domain.RunRecord{res.Record()}}, nil
}

func (s *Server) handleRunAll(ctx context.Context, request mcp.CallToolRequest, args RunAllArgs) (RunResponse, error) {
	results, err := s.manager.RunAll(ctx, args.Input)
	if err != nil {
		s.logger.Warn("MCP run_all: some runs did not complete", "err", err)
	}
	resp := RunResponse{Runs: make([]*domain.RunRecord, 0, len(results))}
	for _, res := range results {
		if res != nil {
			resp.Runs = append(resp.Runs, res.Record())
		}
	}
	return resp, nil
}

func (s *Server) handleMessage(ctx context.Context, request mcp.CallToolRequest, args MessageArgs) (MessageResponse, error) {
	if args.SessionID == "" {
		return MessageResponse{}, errors.New("session_id is required")
	}
	reply, err := s.manager.Dispatch(ctx, args.SessionID, args.Line)
	if err != nil {
		return MessageResponse{}, err
	}
	resp := MessageResponse{Text: reply.Text}
	for _, res := range reply.Results {
		if res != nil {
			resp.Runs = append(resp.Runs, res.Record())
		}
	}
	return resp, nil
}

func (s *Server) handleGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("workflow", "")
	wf, err := s.manager.Workflow(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(graph.GenerateMermaid(wf, nil)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(WorkflowsURI, "Loaded Workflows",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.manager.Workflows())
		if err != nil {
			return nil, fmt.Errorf("failed to encode workflows: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      WorkflowsURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
