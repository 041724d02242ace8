package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/eventbus"
	"github.com/preflight/preflight/internal/httpapi"
	"github.com/preflight/preflight/internal/logging"
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

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	bus := eventbus.New()
	tracker := presence.New(bus)
	git := &fakeGit{diffText: diffV1}
	svc := review.New(store, bus, tracker, func(repoPath string) review.GitAdapter { return git })
	return httpapi.NewServer(svc, logging.New(logging.LevelError, logging.FormatHuman))
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndGetReview(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/reviews",
		strings.NewReader(`{"repo_path":"/repo","base_ref":"HEAD"}`))
	createRR := httptest.NewRecorder()
	srv.ServeHTTP(createRR, createReq)
	require.Equal(t, http.StatusOK, createRR.Code)

	var created domain.Review
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/reviews/"+created.ID.String(), nil)
	getRR := httptest.NewRecorder()
	srv.ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)

	var fetched domain.Review
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestGetReview_UnknownID_ReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reviews/"+domain.NewID().String(), nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetReview_MalformedID_ReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reviews/not-a-uuid", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateThreadAndAddComment(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/reviews",
		strings.NewReader(`{"repo_path":"/repo","base_ref":"HEAD"}`))
	createRR := httptest.NewRecorder()
	srv.ServeHTTP(createRR, createReq)
	var rv domain.Review
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &rv))

	threadReq := httptest.NewRequest(http.MethodPost, "/api/reviews/"+rv.ID.String()+"/threads",
		strings.NewReader(`{"file_path":"main.go","line_start":1,"line_end":1,"origin":"Comment","author_type":"Human","body":"look here"}`))
	threadRR := httptest.NewRecorder()
	srv.ServeHTTP(threadRR, threadReq)
	require.Equal(t, http.StatusOK, threadRR.Code)

	var th domain.CommentThread
	require.NoError(t, json.Unmarshal(threadRR.Body.Bytes(), &th))
	assert.Equal(t, "main.go", th.FilePath)

	commentReq := httptest.NewRequest(http.MethodPost, "/api/threads/"+th.ID.String()+"/comments",
		strings.NewReader(`{"author_type":"Agent","body":"on it"}`))
	commentRR := httptest.NewRecorder()
	srv.ServeHTTP(commentRR, commentReq)
	require.Equal(t, http.StatusOK, commentRR.Code)

	var comment domain.Comment
	require.NoError(t, json.Unmarshal(commentRR.Body.Bytes(), &comment))
	assert.Equal(t, "on it", comment.Body)
}

func TestPokeThread_NoContentOnSuccess(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/reviews",
		strings.NewReader(`{"repo_path":"/repo","base_ref":"HEAD"}`))
	createRR := httptest.NewRecorder()
	srv.ServeHTTP(createRR, createReq)
	var rv domain.Review
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &rv))

	threadReq := httptest.NewRequest(http.MethodPost, "/api/reviews/"+rv.ID.String()+"/threads",
		strings.NewReader(`{"file_path":"main.go","line_start":1,"line_end":1,"origin":"Comment","author_type":"Human","body":"look here"}`))
	threadRR := httptest.NewRecorder()
	srv.ServeHTTP(threadRR, threadReq)
	var th domain.CommentThread
	require.NoError(t, json.Unmarshal(threadRR.Body.Bytes(), &th))

	pokeReq := httptest.NewRequest(http.MethodPost, "/api/threads/"+th.ID.String()+"/poke", nil)
	pokeRR := httptest.NewRecorder()
	srv.ServeHTTP(pokeRR, pokeReq)

	assert.Equal(t, http.StatusNoContent, pokeRR.Code)
}

func TestPokeThread_UnknownID_ReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/threads/"+domain.NewID().String()+"/poke", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateReviewStatus_ClosesReview(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/reviews",
		strings.NewReader(`{"repo_path":"/repo","base_ref":"HEAD"}`))
	createRR := httptest.NewRecorder()
	srv.ServeHTTP(createRR, createReq)
	var rv domain.Review
	require.NoError(t, json.Unmarshal(createRR.Body.Bytes(), &rv))

	statusReq := httptest.NewRequest(http.MethodPatch, "/api/reviews/"+rv.ID.String()+"/status",
		strings.NewReader(`{"status":"Closed"}`))
	statusRR := httptest.NewRecorder()
	srv.ServeHTTP(statusRR, statusReq)
	require.Equal(t, http.StatusNoContent, statusRR.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/reviews/"+rv.ID.String(), nil)
	getRR := httptest.NewRecorder()
	srv.ServeHTTP(getRR, getReq)
	var fetched domain.Review
	require.NoError(t, json.Unmarshal(getRR.Body.Bytes(), &fetched))
	assert.Equal(t, domain.ReviewClosed, fetched.Status)
}

func TestCreateReview_MalformedBody_ReturnsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reviews", strings.NewReader(`not json`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
