// Package mcpserver exposes the Tool Dispatcher to agent clients over the
// Model Context Protocol. It knows the MCP wire shapes; all session state
// and enqueue/resolve semantics live in [dispatcher.Dispatcher].
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/google/uuid"
	"github.com/relaybroker/relaybroker/internal/dispatcher"
	"github.com/relaybroker/relaybroker/internal/registry"
)

// Server adapts a [dispatcher.Dispatcher] to the mcp-go tool server. Each
// concurrent MCP client connection becomes its own transport identity (the
// mcp-go client session id), which the Dispatcher binds to a broker
// session on the first register_session call.
type Server struct {
	mcp  *server.MCPServer
	disp *dispatcher.Dispatcher
	log  *slog.Logger

	// transportID resolves a tool call's context to the transport identity
	// the Dispatcher binds sessions to. Defaults to the mcp-go client
	// session id; overridable in tests, which don't go through mcp-go's
	// real transport plumbing.
	transportID func(ctx context.Context) (string, error)
}

// NewServer builds the tool surface described in the external interface
// table: register_session, present_choices, present_multi_select,
// speak/speak_async/speak_urgent, rename_session, check_inbox, and cancel.
func NewServer(disp *dispatcher.Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		mcp:         server.NewMCPServer("relaybroker", "1.0.0", server.WithToolCapabilities(false)),
		disp:        disp,
		log:         log,
		transportID: transportIDFromClientSession,
	}
	s.registerTools()
	return s
}

// HTTPHandler returns the Streamable HTTP transport handler for this
// server, suitable for mounting under the broker's agent RPC listener. It
// is used instead of mcp-go's stdio transport (server.ServeStdio), since
// multiple concurrent agent connections are a core requirement and the
// stdio transport assumes exactly one.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("register_session",
		mcp.WithDescription("Registers the calling agent's working session with the broker, returning a session_id to use implicitly for every subsequent call on this connection."),
		mcp.WithString("cwd", mcp.Required(), mcp.Description("Agent's current working directory")),
		mcp.WithString("hostname", mcp.Required(), mcp.Description("Host the agent is running on")),
		mcp.WithString("tmux_session", mcp.Description("tmux session name, if running inside tmux")),
		mcp.WithString("tmux_pane", mcp.Description("tmux pane id, if running inside tmux")),
		mcp.WithString("name", mcp.Description("Operator-facing display name; defaulted from hints if omitted")),
		mcp.WithString("voice", mcp.Description("TTS voice override for this session")),
		mcp.WithString("style", mcp.Description("TTS style override for this session")),
	), s.handleRegisterSession)

	s.mcp.AddTool(mcp.NewTool("present_choices",
		mcp.WithDescription("Presents a single-select list of options to the operator and blocks until one is chosen, dismissed, or cancelled."),
		mcp.WithString("preamble", mcp.Required(), mcp.Description("Context shown above the option list")),
		mcp.WithArray("choices", mcp.Required(), mcp.Description("Options to present"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":   map[string]any{"type": "string"},
					"summary": map[string]any{"type": "string"},
					"silent":  map[string]any{"type": "boolean"},
				},
				"required": []string{"label"},
			}),
		),
		mcp.WithString("tool_call_id", mcp.Description("Caller-chosen id to pass to cancel() if this call needs to be interrupted")),
	), s.handlePresentChoices)

	s.mcp.AddTool(mcp.NewTool("present_multi_select",
		mcp.WithDescription("Presents a multi-select list of options to the operator and blocks until a selection is confirmed, dismissed, or cancelled."),
		mcp.WithString("preamble", mcp.Required(), mcp.Description("Context shown above the option list")),
		mcp.WithArray("choices", mcp.Required(), mcp.Description("Options to present"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":   map[string]any{"type": "string"},
					"summary": map[string]any{"type": "string"},
					"silent":  map[string]any{"type": "boolean"},
				},
				"required": []string{"label"},
			}),
		),
		mcp.WithString("tool_call_id", mcp.Description("Caller-chosen id to pass to cancel() if this call needs to be interrupted")),
	), s.handlePresentMultiSelect)

	s.mcp.AddTool(mcp.NewTool("speak",
		mcp.WithDescription("Speaks text to the operator and blocks until playback completes."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to speak")),
		mcp.WithString("tool_call_id", mcp.Description("Caller-chosen id to pass to cancel() if this call needs to be interrupted")),
	), s.handleSpeak)

	s.mcp.AddTool(mcp.NewTool("speak_async",
		mcp.WithDescription("Enqueues text to be spoken to the operator and returns immediately once accepted."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to speak")),
		mcp.WithString("tool_call_id", mcp.Description("Caller-chosen id to pass to cancel() if this call needs to be interrupted")),
	), s.handleSpeakAsync)

	s.mcp.AddTool(mcp.NewTool("speak_urgent",
		mcp.WithDescription("Speaks text immediately, preempting whatever is currently playing across every session."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to speak")),
		mcp.WithString("tool_call_id", mcp.Description("Caller-chosen id to pass to cancel() if this call needs to be interrupted")),
	), s.handleSpeakUrgent)

	s.mcp.AddTool(mcp.NewTool("rename_session",
		mcp.WithDescription("Renames the calling session's operator-facing display name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("New display name")),
	), s.handleRenameSession)

	s.mcp.AddTool(mcp.NewTool("check_inbox",
		mcp.WithDescription("Returns any operator messages queued for this session since they were last delivered in a tool response, without presenting anything."),
	), s.handleCheckInbox)

	s.mcp.AddTool(mcp.NewTool("cancel",
		mcp.WithDescription("Cancels a previously issued present_choices/present_multi_select/speak call by its tool_call_id."),
		mcp.WithString("tool_call_id", mcp.Required(), mcp.Description("The tool_call_id of the call to cancel")),
	), s.handleCancel)
}

// transportIDFromClientSession returns the mcp-go client session id bound
// to ctx, which the Dispatcher uses as its transport identity. Every tool
// handler other than register_session requires this to already be bound to
// a broker session.
func transportIDFromClientSession(ctx context.Context) (string, error) {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return "", fmt.Errorf("mcpserver: no client session in context")
	}
	return session.SessionID(), nil
}

// callID returns the caller-chosen tool_call_id for request, or generates
// one if the caller didn't supply one (it then has no way to cancel the
// call, which is fine: cancel is opt-in).
func callID(request mcp.CallToolRequest) string {
	if id := stringArg(request.GetArguments(), "tool_call_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) handleRegisterSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	hints := registry.Hints{
		Cwd:         stringArg(args, "cwd"),
		Hostname:    stringArg(args, "hostname"),
		TmuxSession: stringArg(args, "tmux_session"),
		TmuxPane:    stringArg(args, "tmux_pane"),
		Name:        stringArg(args, "name"),
		Voice:       stringArg(args, "voice"),
		Style:       stringArg(args, "style"),
	}

	sessionID := s.disp.RegisterSession(tid, hints)
	return jsonResult(map[string]any{"session_id": sessionID})
}

func (s *Server) handlePresentChoices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.presentChoices(ctx, request, false)
}

func (s *Server) handlePresentMultiSelect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.presentChoices(ctx, request, true)
}

func (s *Server) presentChoices(ctx context.Context, request mcp.CallToolRequest, multi bool) (*mcp.CallToolResult, error) {
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()

	preamble := stringArg(args, "preamble")
	options, err := parseOptions(args["choices"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.disp.PresentChoices(ctx, tid, callID(request), preamble, options, multi)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if result.Cancelled {
		return mcp.NewToolResultError("cancelled: " + result.CancelReason), nil
	}

	body := map[string]any{"pending_messages": result.PendingMessages}
	if multi {
		body["selected"] = result.SelectedMulti
	} else {
		body["selected"] = result.Selected
		body["summary"] = result.SelectedSummary
	}
	return jsonResult(body)
}

func (s *Server) handleSpeak(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.speak(ctx, request, true, registry.PriorityNormal)
}

func (s *Server) handleSpeakAsync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.speak(ctx, request, false, registry.PriorityNormal)
}

func (s *Server) handleSpeakUrgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.speak(ctx, request, false, registry.PriorityUrgent)
}

func (s *Server) speak(ctx context.Context, request mcp.CallToolRequest, blocking bool, priority int) (*mcp.CallToolResult, error) {
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := stringArg(request.GetArguments(), "text")
	if text == "" {
		return mcp.NewToolResultError("text is required"), nil
	}

	result, err := s.disp.Speak(ctx, tid, callID(request), text, blocking, priority)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"ok": result.OK, "pending_messages": result.PendingMessages})
}

func (s *Server) handleRenameSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name := stringArg(request.GetArguments(), "name")
	if err := s.disp.RenameSession(tid, name); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"ok": true})
}

func (s *Server) handleCheckInbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pending, _, err := s.disp.CheckInbox(tid)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"pending_messages": pending})
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tid, err := s.transportID(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	targetCallID := stringArg(request.GetArguments(), "tool_call_id")
	ok := s.disp.Cancel(tid, targetCallID)
	return jsonResult(map[string]any{"ok": ok})
}
