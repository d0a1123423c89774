package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaybroker/relaybroker/internal/dispatcher"
	"github.com/relaybroker/relaybroker/internal/inbox"
	"github.com/relaybroker/relaybroker/internal/registry"
	"github.com/relaybroker/relaybroker/internal/tts"
)

type fakeSpeaker struct{}

func (fakeSpeaker) Speak(context.Context, tts.SessionVoice, string, bool, int) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(200, nil, nil)
	eng := inbox.New(reg, fakeSpeaker{}, nil, nil, 0, nil)
	disp := dispatcher.New(reg, eng, nil)
	s := NewServer(disp, nil)
	s.transportID = func(context.Context) (string, error) { return "conn-1", nil }
	return s
}

func requestWith(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decodeText(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		text, _ := result.Content[0].(mcp.TextContent)
		t.Fatalf("unexpected tool error: %s", text.Text)
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(text.Text), &body); err != nil {
		t.Fatalf("failed to decode result body: %v", err)
	}
	return body
}

func TestHandleRegisterSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	result, err := s.handleRegisterSession(context.Background(), requestWith(map[string]any{
		"cwd": "/home/agent", "hostname": "box-1", "name": "alice",
	}))
	if err != nil {
		t.Fatalf("handleRegisterSession error: %v", err)
	}
	body := decodeText(t, result)
	if body["session_id"] == "" || body["session_id"] == nil {
		t.Errorf("expected a non-empty session_id, got %v", body)
	}
}

func TestHandleSpeakAsync(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.handleRegisterSession(context.Background(), requestWith(map[string]any{"cwd": "/", "hostname": "h"}))

	result, err := s.handleSpeakAsync(context.Background(), requestWith(map[string]any{"text": "hello"}))
	if err != nil {
		t.Fatalf("handleSpeakAsync error: %v", err)
	}
	body := decodeText(t, result)
	if ok, _ := body["ok"].(bool); !ok {
		t.Errorf("expected ok=true, got %v", body)
	}
}

func TestHandleSpeak_MissingTextIsError(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.handleRegisterSession(context.Background(), requestWith(map[string]any{"cwd": "/", "hostname": "h"}))

	result, err := s.handleSpeak(context.Background(), requestWith(map[string]any{}))
	if err != nil {
		t.Fatalf("handleSpeak error: %v", err)
	}
	if !result.IsError {
		t.Error("expected an error result for a missing text argument")
	}
}

func TestHandlePresentChoices_CancelByCallID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.handleRegisterSession(context.Background(), requestWith(map[string]any{"cwd": "/", "hostname": "h"}))

	done := make(chan *mcp.CallToolResult, 1)
	go func() {
		result, err := s.handlePresentChoices(context.Background(), requestWith(map[string]any{
			"preamble": "pick one",
			"choices": []any{
				map[string]any{"label": "a"},
				map[string]any{"label": "b"},
			},
			"tool_call_id": "call-42",
		}))
		if err == nil {
			done <- result
		}
	}()

	cancelResult, err := waitForCancel(s, "call-42")
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	body := decodeText(t, cancelResult)
	if ok, _ := body["ok"].(bool); !ok {
		t.Errorf("expected cancel ok=true, got %v", body)
	}

	result := <-done
	if !result.IsError {
		t.Error("expected present_choices to surface cancellation as an error result")
	}
}

// waitForCancel retries handleCancel until it succeeds, since the
// present_choices goroutine needs a moment to enqueue before a call id
// becomes cancellable.
func waitForCancel(s *Server, callID string) (*mcp.CallToolResult, error) {
	for i := 0; i < 200; i++ {
		result, err := s.handleCancel(context.Background(), requestWith(map[string]any{"tool_call_id": callID}))
		if err != nil {
			return nil, err
		}
		body := map[string]any{}
		text, _ := result.Content[0].(mcp.TextContent)
		json.Unmarshal([]byte(text.Text), &body)
		if ok, _ := body["ok"].(bool); ok {
			return result, nil
		}
		time.Sleep(time.Millisecond)
	}
	return s.handleCancel(context.Background(), requestWith(map[string]any{"tool_call_id": callID}))
}

func TestHandleCheckInbox_DrainsPendingMessages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.handleRegisterSession(context.Background(), requestWith(map[string]any{"cwd": "/", "hostname": "h"}))

	result, err := s.handleCheckInbox(context.Background(), requestWith(map[string]any{}))
	if err != nil {
		t.Fatalf("handleCheckInbox error: %v", err)
	}
	body := decodeText(t, result)
	if body["pending_messages"] == nil {
		t.Errorf("expected pending_messages key, got %v", body)
	}
}

func TestParseOptions_RejectsMissingLabel(t *testing.T) {
	t.Parallel()

	_, err := parseOptions([]any{map[string]any{"summary": "no label"}})
	if err == nil {
		t.Error("expected an error for a choice missing its label")
	}
}
