// Package review implements the review state machine tying the diff,
// git, highlight, interdiff, snapshot, presence and eventbus packages
// together (spec.md §4.8). Every HTTP action corresponds to exactly one
// method here: validate, call collaborators, mutate via the store,
// publish an event.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/preflight/preflight/internal/diff"
	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/eventbus"
	"github.com/preflight/preflight/internal/highlight"
	"github.com/preflight/preflight/internal/interdiff"
	"github.com/preflight/preflight/internal/presence"
	"github.com/preflight/preflight/internal/snapshot"
)

// GitAdapter is the narrow capability the service needs from C3, scoped
// per repository.
type GitAdapter interface {
	ValidateRepo(ctx context.Context) error
	DiffAgainst(ctx context.Context, baseRef string) (string, error)
	ReadOld(ctx context.Context, file, ref string) (string, error)
	ReadNew(ctx context.Context, file string) (string, error)
	DetectDefaultBase(ctx context.Context) string
}

// GitAdapterFactory builds a GitAdapter for a repo path. Production wiring
// points this at gitadapter.New; tests can substitute a fake.
type GitAdapterFactory func(repoPath string) GitAdapter

// FileEntry is the list-view projection of a FileDiff returned by
// GetFileList.
type FileEntry struct {
	Path   string            `json:"path"`
	Status domain.FileStatus `json:"status"`
}

// FileContent is the resolved text of one version of a file.
type FileContent struct {
	Path        string   `json:"path"`
	Version     string   `json:"version"`
	Lines       []string `json:"lines"`
	Highlighted []string `json:"highlighted,omitempty"`
}

// Service is the review state machine.
type Service struct {
	store    *snapshot.Store
	bus      *eventbus.Bus
	presence *presence.Tracker
	newGit   GitAdapterFactory

	// agentStatus holds the ephemeral, never-persisted per-thread agent
	// acknowledgement tag (spec.md §4.8 SetAgentStatus / AddComment).
	agentStatusMu sync.Mutex
	agentStatus   map[domain.ID]domain.AgentStatusTag
}

// New constructs a Service wired to its collaborators.
func New(store *snapshot.Store, bus *eventbus.Bus, tracker *presence.Tracker, newGit GitAdapterFactory) *Service {
	return &Service{store: store, bus: bus, presence: tracker, newGit: newGit}
}

// CreateReview validates the repo, diffs it against base_ref, and creates
// the review with revision #1.
func (s *Service) CreateReview(ctx context.Context, repoPath, baseRef string, title *string) (domain.Review, error) {
	git := s.newGit(repoPath)
	if err := git.ValidateRepo(ctx); err != nil {
		return domain.Review{}, err
	}

	if baseRef == "" {
		baseRef = git.DetectDefaultBase(ctx)
	}

	diffText, err := git.DiffAgainst(ctx, baseRef)
	if err != nil {
		return domain.Review{}, err
	}

	files, err := diff.Parse(diffText)
	if err != nil {
		return domain.Review{}, domain.Internal(err, "parse diff for new review")
	}

	r, _, err := s.store.CreateReview(repoPath, baseRef, title, files)
	if err != nil {
		return domain.Review{}, err
	}

	s.publish(domain.EventReviewCreated, r.ID, r)
	return r, nil
}

// GetReview returns a review by id.
func (s *Service) GetReview(id domain.ID) (domain.Review, error) {
	return s.store.GetReview(id)
}

// ListReviews returns every review's summary.
func (s *Service) ListReviews() []domain.ReviewSummary {
	return s.store.ListReviews()
}

// UpdateReviewStatus mutates a review's status and publishes
// ReviewStatusChanged.
func (s *Service) UpdateReviewStatus(id domain.ID, status domain.ReviewStatus) error {
	r, err := s.store.UpdateReviewStatus(id, status)
	if err != nil {
		return err
	}
	s.publish(domain.EventReviewStatusChanged, id, r)
	return nil
}

// DeleteReview removes a review and publishes ReviewDeleted.
func (s *Service) DeleteReview(id domain.ID) error {
	if err := s.store.DeleteReview(id); err != nil {
		return err
	}
	s.publish(domain.EventReviewDeleted, id, nil)
	return nil
}

// DeleteClosedReviews purges every Closed review, publishing one
// ReviewDeleted per deleted id.
func (s *Service) DeleteClosedReviews() error {
	ids, err := s.store.DeleteClosedReviews()
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.publish(domain.EventReviewDeleted, id, nil)
	}
	return nil
}

// RequestRevision fails if the review is Closed, then publishes
// RevisionRequested with an empty payload.
func (s *Service) RequestRevision(id domain.ID) error {
	r, err := s.store.GetReview(id)
	if err != nil {
		return err
	}
	if r.Status == domain.ReviewClosed {
		return domain.BadRequest("cannot request a revision on a closed review")
	}
	s.publish(domain.EventRevisionRequested, id, nil)
	return nil
}

// CreateRevision re-diffs the review's repo at its stored base_ref and, if
// the result differs structurally from the latest revision, inserts a new
// revision and publishes RevisionCreated.
func (s *Service) CreateRevision(ctx context.Context, id domain.ID, trigger domain.RevisionTrigger, message *string) (domain.Revision, error) {
	r, err := s.store.GetReview(id)
	if err != nil {
		return domain.Revision{}, err
	}

	git := s.newGit(r.RepoPath)
	diffText, err := git.DiffAgainst(ctx, r.BaseRef)
	if err != nil {
		return domain.Revision{}, err
	}

	files, err := diff.Parse(diffText)
	if err != nil {
		return domain.Revision{}, domain.Internal(err, "parse diff for new revision")
	}

	latest, err := s.store.GetLatestRevision(id)
	if err != nil {
		return domain.Revision{}, err
	}
	if sameFiles(latest.Files, files) {
		return domain.Revision{}, domain.BadRequest("no changes detected since last revision")
	}

	rev, err := s.store.CreateRevision(id, trigger, message, files)
	if err != nil {
		return domain.Revision{}, err
	}
	s.publish(domain.EventRevisionCreated, id, rev)
	return rev, nil
}

// sameFiles reports whether two file lists are structurally identical:
// same set of effective paths in order, same hunk count per file, and
// every matching hunk has identical start/count fields and identical
// per-line content+kind.
func sameFiles(a, b []domain.FileDiff) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].EffectivePath() != b[i].EffectivePath() {
			return false
		}
		if len(a[i].Hunks) != len(b[i].Hunks) {
			return false
		}
		for j := range a[i].Hunks {
			ha, hb := a[i].Hunks[j], b[i].Hunks[j]
			if ha.OldStart != hb.OldStart || ha.NewStart != hb.NewStart ||
				ha.OldCount != hb.OldCount || ha.NewCount != hb.NewCount {
				return false
			}
			if len(ha.Lines) != len(hb.Lines) {
				return false
			}
			for k := range ha.Lines {
				if ha.Lines[k].Kind != hb.Lines[k].Kind || ha.Lines[k].Content != hb.Lines[k].Content {
					return false
				}
			}
		}
	}
	return true
}

// GetRevisions returns every revision for a review, ascending.
func (s *Service) GetRevisions(id domain.ID) ([]domain.Revision, error) {
	return s.store.GetRevisions(id)
}

// revisionFiles resolves the files for an optional revision selector,
// defaulting to the latest revision.
func (s *Service) revisionFiles(reviewID domain.ID, revisionNumber *int) ([]domain.FileDiff, error) {
	if revisionNumber == nil {
		rev, err := s.store.GetLatestRevision(reviewID)
		if err != nil {
			return nil, err
		}
		return rev.Files, nil
	}
	rev, err := s.store.GetRevision(reviewID, *revisionNumber)
	if err != nil {
		return nil, err
	}
	return rev.Files, nil
}

// GetFileList returns the file entries of a revision (latest if nil).
func (s *Service) GetFileList(reviewID domain.ID, revisionNumber *int) ([]FileEntry, error) {
	files, err := s.revisionFiles(reviewID, revisionNumber)
	if err != nil {
		return nil, err
	}
	out := make([]FileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, FileEntry{Path: f.EffectivePath(), Status: f.Status})
	}
	return out, nil
}

// GetFileDiff returns a single file's diff with reconstructed old/new
// bodies and per-line syntax highlighting decorated into each DiffLine.
func (s *Service) GetFileDiff(reviewID domain.ID, path string, revisionNumber *int) (domain.FileDiff, error) {
	files, err := s.revisionFiles(reviewID, revisionNumber)
	if err != nil {
		return domain.FileDiff{}, err
	}

	var found *domain.FileDiff
	for i := range files {
		if files[i].EffectivePath() == path {
			found = &files[i]
			break
		}
	}
	if found == nil {
		return domain.FileDiff{}, domain.NotFound("file %s not found in revision", path)
	}

	fd := *found
	oldBody, newBody := reconstructBodies(fd)
	oldHi := highlight.Lines(path, joinLines(oldBody))
	newHi := highlight.Lines(path, joinLines(newBody))

	fd.Hunks = make([]domain.Hunk, len(found.Hunks))
	copy(fd.Hunks, found.Hunks)
	for hi := range fd.Hunks {
		lines := make([]domain.DiffLine, len(fd.Hunks[hi].Lines))
		copy(lines, fd.Hunks[hi].Lines)
		for li := range lines {
			l := &lines[li]
			switch l.Kind {
			case domain.LineRemoved:
				l.Highlighted = lineAt(oldHi, *l.OldLineNo-1)
			case domain.LineContext, domain.LineAdded:
				l.Highlighted = lineAt(newHi, *l.NewLineNo-1)
			}
		}
		fd.Hunks[hi].Lines = lines
	}

	return fd, nil
}

// reconstructBodies rebuilds the self-contained old/new bodies of a single
// FileDiff from its own hunks, with no external base file. Lines outside
// the hunks are left empty, so line number n is always at index n-1.
func reconstructBodies(fd domain.FileDiff) (oldBody, newBody []string) {
	for _, h := range fd.Hunks {
		for len(oldBody) < h.OldStart-1 {
			oldBody = append(oldBody, "")
		}
		for len(newBody) < h.NewStart-1 {
			newBody = append(newBody, "")
		}
		for _, l := range h.Lines {
			switch l.Kind {
			case domain.LineContext:
				oldBody = append(oldBody, l.Content)
				newBody = append(newBody, l.Content)
			case domain.LineRemoved:
				oldBody = append(oldBody, l.Content)
			case domain.LineAdded:
				newBody = append(newBody, l.Content)
			}
		}
	}
	return oldBody, newBody
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out + "\n"
}

func lineAt(lines []string, idx int) *string {
	if lines == nil || idx < 0 || idx >= len(lines) {
		return nil
	}
	return &lines[idx]
}

// GetFileContent resolves the actual file text for "old" or "new",
// highlights it, and returns it.
func (s *Service) GetFileContent(ctx context.Context, reviewID domain.ID, path, version string) (FileContent, error) {
	r, err := s.store.GetReview(reviewID)
	if err != nil {
		return FileContent{}, err
	}

	git := s.newGit(r.RepoPath)

	if version == "" {
		version = "new"
	}

	var text string
	switch version {
	case "new":
		text, err = git.ReadNew(ctx, path)
	case "old":
		latest, lerr := s.store.GetLatestRevision(reviewID)
		if lerr != nil {
			return FileContent{}, lerr
		}
		readPath := path
		for _, f := range latest.Files {
			if f.EffectivePath() == path && f.Status == domain.FileRenamed && f.OldPath != nil {
				readPath = *f.OldPath
			}
		}
		text, err = git.ReadOld(ctx, readPath, r.BaseRef)
	default:
		return FileContent{}, domain.BadRequest("invalid version %q, must be old or new", version)
	}
	if err != nil {
		return FileContent{}, err
	}

	lines := interdiff.SplitBody(text)
	return FileContent{
		Path:        path,
		Version:     version,
		Lines:       lines,
		Highlighted: highlight.Lines(path, text),
	}, nil
}

// GetThread returns a single thread by id, decorated with its ephemeral
// AgentStatus if any.
func (s *Service) GetThread(id domain.ID) (domain.CommentThread, error) {
	th, err := s.store.GetThread(id)
	if err != nil {
		return domain.CommentThread{}, err
	}
	s.decorateAgentStatus(&th)
	return th, nil
}

// GetThreads returns a review's threads, optionally filtered by file, each
// decorated with its ephemeral AgentStatus if any.
func (s *Service) GetThreads(reviewID domain.ID, filePath *string) ([]domain.CommentThread, error) {
	threads, err := s.store.GetThreads(reviewID, filePath)
	if err != nil {
		return nil, err
	}
	for i := range threads {
		s.decorateAgentStatus(&threads[i])
	}
	return threads, nil
}

// decorateAgentStatus populates th.AgentStatus from the in-memory,
// never-persisted side table.
func (s *Service) decorateAgentStatus(th *domain.CommentThread) {
	s.agentStatusMu.Lock()
	defer s.agentStatusMu.Unlock()
	if tag, ok := s.agentStatus[th.ID]; ok {
		t := tag
		th.AgentStatus = &t
	}
}

// CreateThread creates a thread with an inline initial comment and
// publishes ThreadCreated.
func (s *Service) CreateThread(reviewID domain.ID, filePath string, lineStart, lineEnd int, origin domain.ThreadOrigin, authorType domain.AuthorType, body string) (domain.CommentThread, error) {
	th, err := s.store.CreateThread(reviewID, filePath, lineStart, lineEnd, origin, nil, nil, authorType, body)
	if err != nil {
		return domain.CommentThread{}, err
	}
	s.publish(domain.EventThreadCreated, reviewID, th)
	return th, nil
}

// UpdateThreadStatus mutates a thread's status and publishes
// ThreadStatusChanged.
func (s *Service) UpdateThreadStatus(threadID domain.ID, status domain.ThreadStatus) error {
	th, err := s.store.UpdateThreadStatus(threadID, status)
	if err != nil {
		return err
	}
	s.publish(domain.EventThreadStatusChanged, th.ReviewID, th)
	return nil
}

// AddComment appends a comment to a thread, clears the thread's ephemeral
// AgentStatus, and publishes CommentAdded.
func (s *Service) AddComment(threadID domain.ID, authorType domain.AuthorType, body string) (domain.Comment, error) {
	th, err := s.store.AddComment(threadID, authorType, body)
	if err != nil {
		return domain.Comment{}, err
	}
	s.clearAgentStatus(threadID)

	comment := th.Comments[len(th.Comments)-1]
	s.publish(domain.EventCommentAdded, th.ReviewID, map[string]interface{}{
		"thread_id": threadID,
		"comment":   comment,
	})
	return comment, nil
}

// SetAgentStatus sets the in-memory, non-persisted AgentStatus for a
// thread and publishes ThreadAcknowledged.
func (s *Service) SetAgentStatus(threadID domain.ID, status domain.AgentStatusTag) error {
	th, err := s.store.GetThread(threadID)
	if err != nil {
		return err
	}
	s.agentStatusMu.Lock()
	if s.agentStatus == nil {
		s.agentStatus = make(map[domain.ID]domain.AgentStatusTag)
	}
	s.agentStatus[threadID] = status
	s.agentStatusMu.Unlock()

	s.publish(domain.EventThreadAcknowledged, th.ReviewID, map[string]interface{}{
		"thread_id": threadID,
		"status":    status,
	})
	return nil
}

// PokeThread publishes ThreadPoked for a thread without mutating any state.
// It is the trigger for the otherwise-unreachable ThreadPoked event
// (spec.md §4.7 lists it in the closed event set but assigns it no HTTP
// operation); it is exposed as POST /api/threads/{id}/poke, which the MCP
// poke_thread tool calls, for a human to nudge an agent's attention back
// to a specific thread.
func (s *Service) PokeThread(threadID domain.ID) error {
	th, err := s.store.GetThread(threadID)
	if err != nil {
		return err
	}
	s.publish(domain.EventThreadPoked, th.ReviewID, map[string]interface{}{
		"thread_id": threadID,
	})
	return nil
}

func (s *Service) clearAgentStatus(threadID domain.ID) {
	s.agentStatusMu.Lock()
	defer s.agentStatusMu.Unlock()
	delete(s.agentStatus, threadID)
}

// UpdateAgentPresence verifies the review exists and forwards to the
// presence tracker.
func (s *Service) UpdateAgentPresence(reviewID domain.ID, connected bool) error {
	if _, err := s.store.GetReview(reviewID); err != nil {
		return err
	}
	if connected {
		s.presence.Register(reviewID)
	} else {
		s.presence.Deregister(reviewID)
	}
	return nil
}

// IsAgentConnected reports the review's current presence state.
func (s *Service) IsAgentConnected(reviewID domain.ID) bool {
	return s.presence.IsConnected(reviewID)
}

// Subscribe registers a new event listener on the bus.
func (s *Service) Subscribe() *eventbus.Subscription {
	return s.bus.Subscribe()
}

// Unsubscribe releases a listener.
func (s *Service) Unsubscribe(sub *eventbus.Subscription) {
	s.bus.Unsubscribe(sub)
}

func (s *Service) publish(eventType string, reviewID domain.ID, payload interface{}) {
	s.bus.Publish(domain.WsEvent{
		EventType: eventType,
		ReviewID:  reviewID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}
