// Package mcptools exposes a running serve instance to an MCP-style agent
// over a stdio JSON-RPC transport. Tools are named operations with a fixed
// Name()/Description()/Execute() shape, registered as a flat slice, and
// every tool is a thin translation onto an mcpclient.Client call — so the
// agent observes the same reviews, threads, and events a human is driving
// through the browser at the same time.
package mcptools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/logging"
	"github.com/preflight/preflight/internal/mcpclient"
	"github.com/preflight/preflight/internal/review"
)

// DefaultWaitTimeout and MaxWaitTimeout bound the wait_for_event tool
// per spec.md §5.
const (
	DefaultWaitTimeout = 300 * time.Second
	MaxWaitTimeout     = 600 * time.Second
)

// Tool is one callable MCP tool.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// NewRegistry builds every tool an agent needs to drive the review loop,
// wired to a client of a running serve instance.
func NewRegistry(client *mcpclient.Client) []Tool {
	return []Tool{
		&listReviewsTool{client},
		&getReviewTool{client},
		&getFileDiffTool{client},
		&getFileContentTool{client},
		&getThreadsTool{client},
		&addCommentTool{client},
		&setThreadStatusTool{client},
		&setAgentStatusTool{client},
		&createRevisionTool{client},
		&pokeThreadTool{client},
		&waitForEventTool{client},
	}
}

type listReviewsTool struct{ client *mcpclient.Client }

func (t *listReviewsTool) Name() string        { return "list_reviews" }
func (t *listReviewsTool) Description() string { return "List every review and its summary counts." }
func (t *listReviewsTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	raw, err := t.client.Get(ctx, "/api/reviews")
	if err != nil {
		return nil, err
	}
	var summaries []domain.ReviewSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, fmt.Errorf("decode list_reviews response: %w", err)
	}
	return summaries, nil
}

type reviewIDParams struct {
	ReviewID string `json:"review_id"`
}

type getReviewTool struct{ client *mcpclient.Client }

func (t *getReviewTool) Name() string        { return "get_review" }
func (t *getReviewTool) Description() string { return "Fetch a single review by id." }
func (t *getReviewTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p reviewIDParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	id, err := parseReviewID(p.ReviewID)
	if err != nil {
		return nil, err
	}
	raw, err := t.client.Get(ctx, "/api/reviews/"+id.String())
	if err != nil {
		return nil, err
	}
	var rv domain.Review
	if err := json.Unmarshal(raw, &rv); err != nil {
		return nil, fmt.Errorf("decode get_review response: %w", err)
	}
	return rv, nil
}

type fileSelectorParams struct {
	ReviewID string `json:"review_id"`
	Path     string `json:"path"`
	Revision *int   `json:"revision,omitempty"`
}

type getFileDiffTool struct{ client *mcpclient.Client }

func (t *getFileDiffTool) Name() string        { return "get_file_diff" }
func (t *getFileDiffTool) Description() string { return "Fetch one file's diff, highlighted." }
func (t *getFileDiffTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p fileSelectorParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	id, err := parseReviewID(p.ReviewID)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/reviews/%s/files/%s", id, p.Path)
	if p.Revision != nil {
		path += "?revision=" + fmt.Sprint(*p.Revision)
	}
	raw, err := t.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var fd domain.FileDiff
	if err := json.Unmarshal(raw, &fd); err != nil {
		return nil, fmt.Errorf("decode get_file_diff response: %w", err)
	}
	return fd, nil
}

type fileContentParams struct {
	ReviewID string `json:"review_id"`
	Path     string `json:"path"`
	Version  string `json:"version,omitempty"`
}

type getFileContentTool struct{ client *mcpclient.Client }

func (t *getFileContentTool) Name() string        { return "get_file_content" }
func (t *getFileContentTool) Description() string { return "Fetch one file's resolved text, highlighted." }
func (t *getFileContentTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p fileContentParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	id, err := parseReviewID(p.ReviewID)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/reviews/%s/content/%s", id, p.Path)
	if p.Version != "" {
		path += "?version=" + url.QueryEscape(p.Version)
	}
	raw, err := t.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var content review.FileContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("decode get_file_content response: %w", err)
	}
	return content, nil
}

type getThreadsParams struct {
	ReviewID string  `json:"review_id"`
	File     *string `json:"file,omitempty"`
}

type getThreadsTool struct{ client *mcpclient.Client }

func (t *getThreadsTool) Name() string { return "get_threads" }
func (t *getThreadsTool) Description() string {
	return "List a review's comment threads, optionally filtered by file."
}
func (t *getThreadsTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p getThreadsParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	id, err := parseReviewID(p.ReviewID)
	if err != nil {
		return nil, err
	}
	path := "/api/reviews/" + id.String() + "/threads"
	if p.File != nil && *p.File != "" {
		path += "?file=" + url.QueryEscape(*p.File)
	}
	raw, err := t.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var threads []domain.CommentThread
	if err := json.Unmarshal(raw, &threads); err != nil {
		return nil, fmt.Errorf("decode get_threads response: %w", err)
	}
	return threads, nil
}

type addCommentParams struct {
	ThreadID   string `json:"thread_id"`
	AuthorType string `json:"author_type"`
	Body       string `json:"body"`
}

type addCommentTool struct{ client *mcpclient.Client }

func (t *addCommentTool) Name() string { return "add_comment" }
func (t *addCommentTool) Description() string {
	return "Append a comment to a thread; author_type defaults to Agent."
}
func (t *addCommentTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p addCommentParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	if p.AuthorType == "" {
		p.AuthorType = string(domain.AuthorAgent)
	}
	threadID, err := parseThreadID(p.ThreadID)
	if err != nil {
		return nil, err
	}
	raw, err := t.client.Post(ctx, "/api/threads/"+threadID.String()+"/comments", map[string]string{
		"author_type": p.AuthorType,
		"body":        p.Body,
	})
	if err != nil {
		return nil, err
	}
	var comment domain.Comment
	if err := json.Unmarshal(raw, &comment); err != nil {
		return nil, fmt.Errorf("decode add_comment response: %w", err)
	}
	return comment, nil
}

type setThreadStatusParams struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type setThreadStatusTool struct{ client *mcpclient.Client }

func (t *setThreadStatusTool) Name() string        { return "set_thread_status" }
func (t *setThreadStatusTool) Description() string { return "Mark a thread Open or Resolved." }
func (t *setThreadStatusTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p setThreadStatusParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	threadID, err := parseThreadID(p.ThreadID)
	if err != nil {
		return nil, err
	}
	if _, err := t.client.Patch(ctx, "/api/threads/"+threadID.String()+"/status", map[string]string{
		"status": p.Status,
	}); err != nil {
		return nil, err
	}
	return okResult{}, nil
}

type setAgentStatusParams struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

type setAgentStatusTool struct{ client *mcpclient.Client }

func (t *setAgentStatusTool) Name() string { return "set_agent_status" }
func (t *setAgentStatusTool) Description() string {
	return "Set the ephemeral agent-status tag (Seen|Working) on a thread."
}
func (t *setAgentStatusTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p setAgentStatusParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	threadID, err := parseThreadID(p.ThreadID)
	if err != nil {
		return nil, err
	}
	if _, err := t.client.Put(ctx, "/api/threads/"+threadID.String()+"/agent-status", map[string]string{
		"status": p.Status,
	}); err != nil {
		return nil, err
	}
	return okResult{}, nil
}

type createRevisionParams struct {
	ReviewID string  `json:"review_id"`
	Trigger  string  `json:"trigger"`
	Message  *string `json:"message,omitempty"`
}

type createRevisionTool struct{ client *mcpclient.Client }

func (t *createRevisionTool) Name() string { return "create_revision" }
func (t *createRevisionTool) Description() string {
	return "Re-diff the review's repo and create a new revision if it changed."
}
func (t *createRevisionTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p createRevisionParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	id, err := parseReviewID(p.ReviewID)
	if err != nil {
		return nil, err
	}
	trigger := domain.RevisionTrigger(p.Trigger)
	if trigger == "" {
		trigger = domain.TriggerAgent
	}
	raw, err := t.client.Post(ctx, "/api/reviews/"+id.String()+"/revisions", map[string]interface{}{
		"trigger": trigger,
		"message": p.Message,
	})
	if err != nil {
		return nil, err
	}
	var rev domain.Revision
	if err := json.Unmarshal(raw, &rev); err != nil {
		return nil, fmt.Errorf("decode create_revision response: %w", err)
	}
	return rev, nil
}

type pokeThreadParams struct {
	ThreadID string `json:"thread_id"`
}

type pokeThreadTool struct{ client *mcpclient.Client }

func (t *pokeThreadTool) Name() string { return "poke_thread" }
func (t *pokeThreadTool) Description() string {
	return "Nudge a thread, publishing ThreadPoked without mutating it."
}
func (t *pokeThreadTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p pokeThreadParams
	if err := unmarshalParams(params, &p); err != nil {
		return nil, err
	}
	threadID, err := parseThreadID(p.ThreadID)
	if err != nil {
		return nil, err
	}
	if _, err := t.client.Post(ctx, "/api/threads/"+threadID.String()+"/poke", nil); err != nil {
		return nil, err
	}
	return okResult{}, nil
}

// waitForEventParams mirrors the original implementation's WaitForEventInput:
// an optional review_id filter, an optional event_types filter, and a
// caller-supplied timeout capped at MaxWaitTimeout.
type waitForEventParams struct {
	ReviewID       *string  `json:"review_id,omitempty"`
	EventTypes     []string `json:"event_types,omitempty"`
	TimeoutSeconds *int     `json:"timeout_seconds,omitempty"`
}

type waitForEventTool struct{ client *mcpclient.Client }

func (t *waitForEventTool) Name() string { return "wait_for_event" }
func (t *waitForEventTool) Description() string {
	return "Block until a matching event is published, or time out. Optionally filter by review_id and/or event_types."
}
func (t *waitForEventTool) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p waitForEventParams
	if len(params) > 0 {
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
	}

	timeout := DefaultWaitTimeout
	if p.TimeoutSeconds != nil {
		timeout = time.Duration(*p.TimeoutSeconds) * time.Second
		if timeout > MaxWaitTimeout {
			timeout = MaxWaitTimeout
		}
		if timeout <= 0 {
			timeout = DefaultWaitTimeout
		}
	}

	var reviewID domain.ID
	if p.ReviewID != nil && *p.ReviewID != "" {
		id, err := parseReviewID(*p.ReviewID)
		if err != nil {
			return nil, err
		}
		reviewID = id
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := t.client.Subscribe(waitCtx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	for {
		select {
		case event, ok := <-stream.Events():
			if !ok {
				return waitTimeoutResult{Timeout: true}, nil
			}
			if p.ReviewID != nil && *p.ReviewID != "" && event.ReviewID != reviewID {
				continue
			}
			if len(p.EventTypes) > 0 && !eventTypeMatches(event.EventType, p.EventTypes) {
				continue
			}
			return event, nil
		case <-stream.Err():
			return waitTimeoutResult{Timeout: true}, nil
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return waitTimeoutResult{Timeout: true}, nil
		}
	}
}

func eventTypeMatches(eventType string, filters []string) bool {
	for _, f := range filters {
		if f == eventType {
			return true
		}
	}
	return false
}

type okResult struct {
	OK bool `json:"ok"`
}

func (okResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OK bool `json:"ok"`
	}{OK: true})
}

type waitTimeoutResult struct {
	Timeout bool `json:"timeout"`
}

func parseReviewID(raw string) (domain.ID, error) {
	id, err := domain.ParseID(raw)
	if err != nil {
		return domain.ID{}, domain.BadRequest("invalid review_id %q", raw)
	}
	return id, nil
}

func parseThreadID(raw string) (domain.ID, error) {
	id, err := domain.ParseID(raw)
	if err != nil {
		return domain.ID{}, domain.BadRequest("invalid thread_id %q", raw)
	}
	return id, nil
}

func unmarshalParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return domain.BadRequest("missing params")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.BadRequest("invalid params: %v", err)
	}
	return nil
}

// Request is one JSON-RPC 2.0 call, one per line on the stdio transport.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one JSON-RPC 2.0 reply.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type toolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Server serves the tool registry over newline-delimited JSON-RPC, the
// shape an MCP stdio client speaks.
type Server struct {
	tools map[string]Tool
	order []string
	log   logging.Logger
}

// NewServer builds a Server from a tool registry.
func NewServer(tools []Tool, log logging.Logger) *Server {
	s := &Server{tools: make(map[string]Tool, len(tools)), log: log}
	for _, t := range tools {
		s.tools[t.Name()] = t
		s.order = append(s.order, t.Name())
	}
	return s
}

// Serve reads one JSON-RPC request per line from r and writes one response
// per line to w, until r is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(enc, nil, codeParseError, "invalid JSON-RPC request")
			continue
		}
		s.dispatch(ctx, enc, req)
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, enc *json.Encoder, req Request) {
	switch req.Method {
	case "tools/list":
		descriptors := make([]toolDescriptor, 0, len(s.order))
		for _, name := range s.order {
			t := s.tools[name]
			descriptors = append(descriptors, toolDescriptor{Name: t.Name(), Description: t.Description()})
		}
		s.writeResult(enc, req.ID, descriptors)

	case "tools/call":
		var p toolCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			s.writeError(enc, req.ID, codeInvalidParams, "invalid tools/call params")
			return
		}
		tool, ok := s.tools[p.Name]
		if !ok {
			s.writeError(enc, req.ID, codeMethodNotFound, fmt.Sprintf("unknown tool %q", p.Name))
			return
		}
		result, err := tool.Execute(ctx, p.Arguments)
		if err != nil {
			if s.log != nil {
				s.log.LogError("mcp tool call failed", "tool", p.Name, "err", err)
			}
			s.writeError(enc, req.ID, codeInternal, err.Error())
			return
		}
		s.writeResult(enc, req.ID, result)

	default:
		s.writeError(enc, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) writeResult(enc *json.Encoder, id json.RawMessage, result interface{}) {
	_ = enc.Encode(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(enc *json.Encoder, id json.RawMessage, code int, msg string) {
	_ = enc.Encode(Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}})
}
