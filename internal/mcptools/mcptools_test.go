package mcptools_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/eventbus"
	"github.com/preflight/preflight/internal/httpapi"
	"github.com/preflight/preflight/internal/logging"
	"github.com/preflight/preflight/internal/mcpclient"
	"github.com/preflight/preflight/internal/mcptools"
	"github.com/preflight/preflight/internal/presence"
	"github.com/preflight/preflight/internal/review"
	"github.com/preflight/preflight/internal/snapshot"
)

const diffV1 = `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1,1 +1,2 @@
 package main
+func main() {}
`

type fakeGit struct{ diffText string }

func (f *fakeGit) ValidateRepo(ctx context.Context) error { return nil }
func (f *fakeGit) DiffAgainst(ctx context.Context, baseRef string) (string, error) {
	return f.diffText, nil
}
func (f *fakeGit) ReadOld(ctx context.Context, file, ref string) (string, error) { return "", nil }
func (f *fakeGit) ReadNew(ctx context.Context, file string) (string, error)      { return "package main\n", nil }
func (f *fakeGit) DetectDefaultBase(ctx context.Context) string                 { return "HEAD" }

// newTestClient spins up a real serve instance and returns a client
// addressed at it, mirroring how the mcp subcommand talks to serve.
func newTestClient(t *testing.T) *mcpclient.Client {
	t.Helper()
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	bus := eventbus.New()
	tracker := presence.New(bus)
	git := &fakeGit{diffText: diffV1}
	svc := review.New(store, bus, tracker, func(repoPath string) review.GitAdapter { return git })

	srv := httptest.NewServer(httpapi.NewServer(svc, logging.New(logging.LevelError, logging.FormatHuman)))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return mcpclient.NewClient(port)
}

func createReview(t *testing.T, client *mcpclient.Client) domain.Review {
	t.Helper()
	raw, err := client.Post(context.Background(), "/api/reviews", map[string]string{
		"repo_path": "/repo",
		"base_ref":  "HEAD",
	})
	require.NoError(t, err)
	var rv domain.Review
	require.NoError(t, json.Unmarshal(raw, &rv))
	return rv
}

func createThread(t *testing.T, client *mcpclient.Client, reviewID domain.ID) domain.CommentThread {
	t.Helper()
	raw, err := client.Post(context.Background(), "/api/reviews/"+reviewID.String()+"/threads", map[string]interface{}{
		"file_path":   "main.go",
		"line_start":  1,
		"line_end":    1,
		"origin":      "Comment",
		"author_type": "Human",
		"body":        "hi",
	})
	require.NoError(t, err)
	var th domain.CommentThread
	require.NoError(t, json.Unmarshal(raw, &th))
	return th
}

func TestRegistry_HasAllDocumentedTools(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)

	want := []string{
		"list_reviews", "get_review", "get_file_diff", "get_file_content",
		"get_threads", "add_comment", "set_thread_status", "set_agent_status",
		"create_revision", "poke_thread", "wait_for_event",
	}
	got := make([]string, 0, len(tools))
	for _, tool := range tools {
		got = append(got, tool.Name())
		assert.NotEmpty(t, tool.Description())
	}
	assert.ElementsMatch(t, want, got)
}

func TestListReviewsTool(t *testing.T) {
	client := newTestClient(t)
	createReview(t, client)

	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "list_reviews")

	result, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)
	summaries, ok := result.([]domain.ReviewSummary)
	require.True(t, ok)
	assert.Len(t, summaries, 1)
}

func TestGetReviewTool_InvalidID(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "get_review")

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"review_id":"not-a-uuid"}`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindBadRequest))
}

func TestAddCommentTool(t *testing.T) {
	client := newTestClient(t)
	rv := createReview(t, client)
	th := createThread(t, client, rv.ID)

	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "add_comment")

	params, err := json.Marshal(map[string]string{
		"thread_id":   th.ID.String(),
		"author_type": "Agent",
		"body":        "on it",
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), params)
	require.NoError(t, err)
	comment, ok := result.(domain.Comment)
	require.True(t, ok)
	assert.Equal(t, "on it", comment.Body)
}

func TestPokeThreadTool(t *testing.T) {
	client := newTestClient(t)
	rv := createReview(t, client)
	th := createThread(t, client, rv.ID)

	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "poke_thread")

	params, err := json.Marshal(map[string]string{"thread_id": th.ID.String()})
	require.NoError(t, err)

	_, err = tool.Execute(context.Background(), params)
	require.NoError(t, err)
}

func TestWaitForEventTool_TimesOutQuickly(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "wait_for_event")

	start := time.Now()
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"timeout_seconds":1}`))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, mustTimeoutJSON(t, result))
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWaitForEventTool_ReceivesPublishedEvent(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "wait_for_event")

	done := make(chan struct{})
	var result interface{}
	var execErr error
	go func() {
		result, execErr = tool.Execute(context.Background(), json.RawMessage(`{"timeout_seconds":5}`))
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	createReview(t, client)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("wait_for_event did not return in time")
	}
	require.NoError(t, execErr)
	event, ok := result.(domain.WsEvent)
	require.True(t, ok)
	assert.Equal(t, domain.EventReviewCreated, event.EventType)
}

func TestWaitForEventTool_FiltersByReviewID(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "wait_for_event")

	other := createReview(t, client)

	done := make(chan struct{})
	var result interface{}
	var execErr error
	go func() {
		params, _ := json.Marshal(map[string]interface{}{
			"review_id":       other.ID.String(),
			"timeout_seconds": 2,
		})
		result, execErr = tool.Execute(context.Background(), params)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	createReview(t, client) // unrelated review_created, should be filtered out

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("wait_for_event did not return in time")
	}
	require.NoError(t, execErr)
	assert.True(t, mustTimeoutJSON(t, result), "expected the unrelated review's event to be filtered out, timing out")
}

func TestWaitForEventTool_FiltersByEventType(t *testing.T) {
	client := newTestClient(t)
	tools := mcptools.NewRegistry(client)
	tool := findTool(t, tools, "wait_for_event")

	done := make(chan struct{})
	var result interface{}
	var execErr error
	go func() {
		params, _ := json.Marshal(map[string]interface{}{
			"event_types":     []string{domain.EventThreadCreated},
			"timeout_seconds": 2,
		})
		result, execErr = tool.Execute(context.Background(), params)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	rv := createReview(t, client)  // review_created, should not match the filter
	createThread(t, client, rv.ID) // thread_created, should match

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("wait_for_event did not return in time")
	}
	require.NoError(t, execErr)
	event, ok := result.(domain.WsEvent)
	require.True(t, ok)
	assert.Equal(t, domain.EventThreadCreated, event.EventType)
}

func TestServer_ToolsListAndCall(t *testing.T) {
	client := newTestClient(t)
	createReview(t, client)

	srv := mcptools.NewServer(mcptools.NewRegistry(client), nil)

	var in bytes.Buffer
	in.WriteString(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	in.WriteString(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_reviews","arguments":{}}}` + "\n")
	in.WriteString(`{"jsonrpc":"2.0","id":3,"method":"bogus"}` + "\n")

	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), &in, &out))

	scanner := bufio.NewScanner(&out)
	var responses []mcptools.Response
	for scanner.Scan() {
		var resp mcptools.Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	require.Len(t, responses, 3)
	assert.Nil(t, responses[0].Error)
	assert.Nil(t, responses[1].Error)
	require.NotNil(t, responses[2].Error)
}

func findTool(t *testing.T, tools []mcptools.Tool, name string) mcptools.Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return nil
}

func mustTimeoutJSON(t *testing.T, v interface{}) bool {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]bool
	require.NoError(t, json.Unmarshal(data, &m))
	val, ok := m["timeout"]
	require.True(t, ok, fmt.Sprintf("expected timeout field, got %s", data))
	return val
}
