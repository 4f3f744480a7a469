// Package planner is the boundary to the automated planner. It exposes
// the gate, the lineage store, and the monitor as MCP tools over stdio;
// the planner proposes commands and reads back structured outcomes, never
// touching a shell directly.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/mjcarver/opsgate/internal/drift"
	"github.com/mjcarver/opsgate/internal/gate"
	"github.com/mjcarver/opsgate/internal/index"
	"github.com/mjcarver/opsgate/internal/memory"
	"github.com/mjcarver/opsgate/internal/redact"
)

const turnLimitMessage = "turn limit reached for this session; ask the user before continuing"

// Service wires the MCP tools to the core components.
type Service struct {
	log     *zap.Logger
	store   *memory.Store
	gate    *gate.Gate
	monitor *drift.Monitor
	idx     *index.Index // optional
	shell   string
	tools   []string
}

func New(log *zap.Logger, store *memory.Store, g *gate.Gate, monitor *drift.Monitor, idx *index.Index, shell string, tools []string) *Service {
	return &Service{
		log: log, store: store, gate: g, monitor: monitor,
		idx: idx, shell: shell, tools: tools,
	}
}

// Server builds the MCP server with all tools registered.
func (s *Service) Server(version string) *server.MCPServer {
	srv := server.NewMCPServer("opsgate", version,
		server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("propose_command",
		mcp.WithDescription("Propose a shell command for gated execution. Returns the execution result, or the human's decision when the command was declined."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Full shell command")),
		mcp.WithString("tool", mcp.Description("Tool name; derived from the command when omitted")),
		mcp.WithString("rationale", mcp.Description("Why this command is needed")),
	), s.proposeCommand)

	srv.AddTool(mcp.NewTool("read_timeline",
		mcp.WithDescription("Read session timeline entries after a sequence number"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithNumber("after", mcp.Description("Return entries with seq greater than this; 0 for all")),
	), s.readTimeline)

	srv.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Create a new session for a goal"),
		mcp.WithString("goal", mcp.Required(), mcp.Description("Goal text")),
	), s.createSession)

	srv.AddTool(mcp.NewTool("fork_session",
		mcp.WithDescription("Fork an existing session into an independent copy"),
		mcp.WithString("parent_id", mcp.Required(), mcp.Description("Session to fork")),
		mcp.WithString("goal", mcp.Description("Goal for the fork; inherits the parent's when omitted")),
	), s.forkSession)

	srv.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List all sessions with status and parent links"),
	), s.listSessions)

	srv.AddTool(mcp.NewTool("read_milestones",
		mcp.WithDescription("Read the session's most recent milestones for context"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithNumber("last", mcp.Description("How many recent milestones to return; 0 for all")),
	), s.readMilestones)

	srv.AddTool(mcp.NewTool("commit_milestone",
		mcp.WithDescription("Record a confirmed finding referencing timeline entries"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session id")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Short summary")),
		mcp.WithString("finding", mcp.Description("The confirmed finding")),
	), s.commitMilestone)

	if s.idx != nil {
		srv.AddTool(mcp.NewTool("search_history",
			mcp.WithDescription("Search past commands across all sessions"),
			mcp.WithString("term", mcp.Required(), mcp.Description("Substring to match")),
		), s.searchHistory)
	}

	return srv
}

// ServeStdio blocks serving the planner on stdin/stdout.
func (s *Service) ServeStdio(version string) error {
	return server.ServeStdio(s.Server(version))
}

type proposeResponse struct {
	Outcome     string `json:"outcome"`
	Tier        string `json:"tier"`
	Intent      string `json:"intent,omitempty"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
	ExitCode    int    `json:"exit_code"`
	DurationMS  int64  `json:"duration_ms"`
	TimedOut    bool   `json:"timed_out,omitempty"`
	Alternative string `json:"alternative,omitempty"`
	Reply       string `json:"reply,omitempty"`
	Signal      string `json:"signal,omitempty"`
}

func (s *Service) proposeCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tool := req.GetString("tool", "")
	rationale := req.GetString("rationale", "")

	s.monitor.Observe(sessionID, command)
	signal := s.monitor.Check(sessionID, drift.Probe(ctx, s.shell, s.tools))
	if signal == drift.SignalTurnLimit {
		// The refused proposal is still part of the record; only its
		// execution is withheld until the operator resets the counter.
		if _, err := s.store.Append(sessionID, memory.Entry{
			Actor:   memory.ActorAutomated,
			Kind:    memory.KindProposal,
			Tool:    tool,
			Command: command,
			Thought: rationale,
		}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if signal != drift.SignalOK {
		if _, err := s.store.Append(sessionID, memory.Entry{
			Actor: memory.ActorAutomated,
			Kind:  memory.KindSignal,
			Text:  string(signal),
		}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if signal == drift.SignalTurnLimit {
		return mcp.NewToolResultError(turnLimitMessage), nil
	}

	res, err := s.gate.Process(ctx, sessionID, gate.Proposal{
		Tool: tool, Command: command, Rationale: rationale,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Outcome == gate.OutcomeExecuted || res.Outcome == gate.OutcomeRedirected {
		s.monitor.RecordStateChange(sessionID)
	}

	resp := proposeResponse{
		Outcome:     res.Outcome,
		Tier:        res.Tier.String(),
		Intent:      string(res.Intent),
		Alternative: res.Alternative,
		Reply:       res.Reply,
		Signal:      nonOK(signal),
	}
	if res.Exec != nil {
		resp.Stdout = redact.SanitizeOutput(res.Exec.Stdout)
		resp.Stderr = redact.SanitizeOutput(res.Exec.Stderr)
		resp.ExitCode = res.Exec.ExitCode
		resp.DurationMS = res.Exec.Duration.Milliseconds()
		resp.TimedOut = res.Exec.TimedOut
	}
	return jsonResult(resp)
}

func (s *Service) readTimeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	after := uint64(req.GetFloat("after", 0))

	entries, err := s.store.ReadSince(sessionID, after)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// The planner ingests copies, never the primary log: outputs are
	// sanitized against log poisoning and prompt injection.
	for i := range entries {
		entries[i].Output = redact.SanitizeOutput(entries[i].Output)
		entries[i].Text = redact.SanitizeOutput(entries[i].Text)
	}
	if len(entries) > 0 {
		if err := s.store.SetLastSynced(sessionID, entries[len(entries)-1].Seq); err != nil {
			s.log.Warn("record sync offset failed", zap.Error(err))
		}
	}
	return jsonResult(entries)
}

func (s *Service) createSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goal, err := req.RequireString("goal")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.store.CreateSession(goal)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.idx != nil {
		if meta, err := s.store.Metadata(id); err == nil {
			if err := s.idx.UpsertSession(meta); err != nil {
				s.log.Debug("index session failed", zap.Error(err))
			}
		}
	}
	return jsonResult(map[string]string{"session_id": id})
}

func (s *Service) forkSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parent, err := req.RequireString("parent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	h, err := s.store.Fork(parent, req.GetString("goal", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := h.Await(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"session_id": id, "parent_id": parent})
}

func (s *Service) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Sessions())
}

func (s *Service) readMilestones(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ms, err := s.store.RecentMilestones(sessionID, int(req.GetFloat("last", 0)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	for i := range ms {
		ms[i].Summary = redact.SanitizeOutput(ms[i].Summary)
		ms[i].Finding = redact.SanitizeOutput(ms[i].Finding)
	}
	return jsonResult(ms)
}

func (s *Service) commitMilestone(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seq, err := s.store.Seq(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var refs []uint64
	if seq > 0 {
		refs = []uint64{seq}
	}
	if err := s.store.CommitMilestone(sessionID, summary, req.GetString("finding", ""), refs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("milestone recorded"), nil
}

func (s *Service) searchHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term, err := req.RequireString("term")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.idx.Search(term, 50)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func nonOK(sig drift.Signal) string {
	if sig == drift.SignalOK {
		return ""
	}
	return string(sig)
}
