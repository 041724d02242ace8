// Package snapshot implements the single in-memory state object holding
// reviews, threads, and revisions, durable via crash-safe atomic-rename
// JSON persistence (spec.md §4.5).
package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/preflight/preflight/internal/domain"
)

// state is the whole persisted snapshot: three keyed tables.
type state struct {
	Reviews   map[domain.ID]*domain.Review         `json:"reviews"`
	Threads   map[domain.ID]*domain.CommentThread  `json:"threads"`
	Revisions map[domain.ID]*domain.Revision       `json:"revisions"`
}

func newState() *state {
	return &state{
		Reviews:   make(map[domain.ID]*domain.Review),
		Threads:   make(map[domain.ID]*domain.CommentThread),
		Revisions: make(map[domain.ID]*domain.Revision),
	}
}

// Store is the single in-memory state object, guarded by one exclusive
// lock, and backed by a JSON file with atomic-rename persistence.
type Store struct {
	mu   sync.Mutex
	path string
	st   *state
}

// Open loads the snapshot at path, or starts with empty state if the file
// does not exist. A malformed file surfaces as an Internal ServiceError.
func Open(path string) (*Store, error) {
	s := &Store{path: path, st: newState()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, domain.Internal(err, "read snapshot file %s", path)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s.st); err != nil {
		return nil, domain.Internal(err, "parse snapshot file %s", path)
	}
	return s, nil
}

// persist serializes the entire state to path.tmp then atomically renames
// it over path. Must be called while holding mu.
func (s *Store) persist() error {
	data, err := json.Marshal(s.st)
	if err != nil {
		return domain.Internal(err, "marshal snapshot state")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Internal(err, "create snapshot directory %s", dir)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return domain.Internal(err, "write temp snapshot file %s", tmpPath)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return domain.Internal(err, "rename temp snapshot file to %s", s.path)
	}
	return nil
}

// CreateReview assigns an id, sets status Open, stamps times, and inserts
// the review along with its first revision.
func (s *Store) CreateReview(repoPath, baseRef string, title *string, files []domain.FileDiff) (domain.Review, domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	review := domain.Review{
		ID:        domain.NewID(),
		Title:     title,
		Status:    domain.ReviewOpen,
		RepoPath:  repoPath,
		BaseRef:   baseRef,
		CreatedAt: now,
		UpdatedAt: now,
	}
	revision := domain.Revision{
		ID:             domain.NewID(),
		ReviewID:       review.ID,
		RevisionNumber: 1,
		Trigger:        domain.TriggerManual,
		Files:          files,
		CreatedAt:      now,
	}

	s.st.Reviews[review.ID] = &review
	s.st.Revisions[revision.ID] = &revision

	if err := s.persist(); err != nil {
		delete(s.st.Reviews, review.ID)
		delete(s.st.Revisions, revision.ID)
		return domain.Review{}, domain.Revision{}, err
	}
	return review, revision, nil
}

// GetReview returns a review by id.
func (s *Store) GetReview(id domain.ID) (domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.st.Reviews[id]
	if !ok {
		return domain.Review{}, domain.NotFound("review %s not found", id)
	}
	return *r, nil
}

// ListReviews returns summaries for every review, with derived counts.
func (s *Store) ListReviews() []domain.ReviewSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ReviewSummary, 0, len(s.st.Reviews))
	for _, r := range s.st.Reviews {
		out = append(out, s.summaryLocked(*r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// summaryLocked computes derived counts for a review. Callers must hold mu.
func (s *Store) summaryLocked(r domain.Review) domain.ReviewSummary {
	var threadCount, openCount int
	for _, th := range s.st.Threads {
		if th.ReviewID != r.ID {
			continue
		}
		threadCount++
		if th.Status == domain.ThreadOpen && th.Origin != domain.OriginAgentExplanation {
			openCount++
		}
	}

	fileCount := 0
	if latest := s.latestRevisionLocked(r.ID); latest != nil {
		fileCount = len(latest.Files)
	}

	return domain.ReviewSummary{
		Review:          r,
		ThreadCount:     threadCount,
		OpenThreadCount: openCount,
		FileCount:       fileCount,
	}
}

// GetReviewSummary returns a single review's summary.
func (s *Store) GetReviewSummary(id domain.ID) (domain.ReviewSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.st.Reviews[id]
	if !ok {
		return domain.ReviewSummary{}, domain.NotFound("review %s not found", id)
	}
	return s.summaryLocked(*r), nil
}

// UpdateReviewStatus mutates status and bumps updated_at.
func (s *Store) UpdateReviewStatus(id domain.ID, status domain.ReviewStatus) (domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.st.Reviews[id]
	if !ok {
		return domain.Review{}, domain.NotFound("review %s not found", id)
	}

	prevStatus := r.Status
	prevUpdated := r.UpdatedAt
	r.Status = status
	r.UpdatedAt = time.Now().UTC()

	if err := s.persist(); err != nil {
		r.Status = prevStatus
		r.UpdatedAt = prevUpdated
		return domain.Review{}, err
	}
	return *r, nil
}

// DeleteReview removes a review and all its threads and revisions.
func (s *Store) DeleteReview(id domain.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[id]; !ok {
		return domain.NotFound("review %s not found", id)
	}

	removedReview := s.st.Reviews[id]
	delete(s.st.Reviews, id)

	var removedThreads []*domain.CommentThread
	for tid, th := range s.st.Threads {
		if th.ReviewID == id {
			removedThreads = append(removedThreads, th)
			delete(s.st.Threads, tid)
		}
	}
	var removedRevisions []*domain.Revision
	for rid, rev := range s.st.Revisions {
		if rev.ReviewID == id {
			removedRevisions = append(removedRevisions, rev)
			delete(s.st.Revisions, rid)
		}
	}

	if err := s.persist(); err != nil {
		s.st.Reviews[id] = removedReview
		for _, th := range removedThreads {
			s.st.Threads[th.ID] = th
		}
		for _, rev := range removedRevisions {
			s.st.Revisions[rev.ID] = rev
		}
		return err
	}
	return nil
}

// DeleteClosedReviews bulk-deletes every review with status Closed along
// with their threads and revisions, returning the deleted ids.
func (s *Store) DeleteClosedReviews() ([]domain.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []domain.ID
	for id, r := range s.st.Reviews {
		if r.Status == domain.ReviewClosed {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	type removed struct {
		review    *domain.Review
		threads   []*domain.CommentThread
		revisions []*domain.Revision
	}
	backup := make(map[domain.ID]removed, len(ids))

	for _, id := range ids {
		r := removed{review: s.st.Reviews[id]}
		delete(s.st.Reviews, id)
		for tid, th := range s.st.Threads {
			if th.ReviewID == id {
				r.threads = append(r.threads, th)
				delete(s.st.Threads, tid)
			}
		}
		for rid, rev := range s.st.Revisions {
			if rev.ReviewID == id {
				r.revisions = append(r.revisions, rev)
				delete(s.st.Revisions, rid)
			}
		}
		backup[id] = r
	}

	if err := s.persist(); err != nil {
		for id, r := range backup {
			s.st.Reviews[id] = r.review
			for _, th := range r.threads {
				s.st.Threads[th.ID] = th
			}
			for _, rev := range r.revisions {
				s.st.Revisions[rev.ID] = rev
			}
		}
		return nil, err
	}
	return ids, nil
}

// CreateThread requires an existing review; the initial comment is
// constructed inline and the thread starts Open.
func (s *Store) CreateThread(reviewID domain.ID, filePath string, lineStart, lineEnd int, origin domain.ThreadOrigin, revisionNumber *int, snippet *string, initialAuthor domain.AuthorType, initialBody string) (domain.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return domain.CommentThread{}, domain.NotFound("review %s not found", reviewID)
	}

	now := time.Now().UTC()
	th := domain.CommentThread{
		ID:             domain.NewID(),
		ReviewID:       reviewID,
		FilePath:       filePath,
		LineStart:      lineStart,
		LineEnd:        lineEnd,
		Origin:         origin,
		Status:         domain.ThreadOpen,
		RevisionNumber: revisionNumber,
		Snippet:        snippet,
		CreatedAt:      now,
		UpdatedAt:      now,
		Comments: []domain.Comment{{
			ID:         domain.NewID(),
			AuthorType: initialAuthor,
			Body:       initialBody,
			CreatedAt:  now,
		}},
	}

	s.st.Threads[th.ID] = &th
	if err := s.persist(); err != nil {
		delete(s.st.Threads, th.ID)
		return domain.CommentThread{}, err
	}
	return th, nil
}

// GetThread returns a single thread by id.
func (s *Store) GetThread(id domain.ID) (domain.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.st.Threads[id]
	if !ok {
		return domain.CommentThread{}, domain.NotFound("thread %s not found", id)
	}
	return *th, nil
}

// GetThreads returns every thread for a review, optionally filtered by
// file path.
func (s *Store) GetThreads(reviewID domain.ID, filePath *string) ([]domain.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return nil, domain.NotFound("review %s not found", reviewID)
	}

	var out []domain.CommentThread
	for _, th := range s.st.Threads {
		if th.ReviewID != reviewID {
			continue
		}
		if filePath != nil && th.FilePath != *filePath {
			continue
		}
		out = append(out, *th)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateThreadStatus mutates a thread's status and bumps updated_at.
func (s *Store) UpdateThreadStatus(id domain.ID, status domain.ThreadStatus) (domain.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.st.Threads[id]
	if !ok {
		return domain.CommentThread{}, domain.NotFound("thread %s not found", id)
	}

	prevStatus := th.Status
	prevUpdated := th.UpdatedAt
	th.Status = status
	th.UpdatedAt = time.Now().UTC()

	if err := s.persist(); err != nil {
		th.Status = prevStatus
		th.UpdatedAt = prevUpdated
		return domain.CommentThread{}, err
	}
	return *th, nil
}

// AddComment appends a comment to a thread and bumps updated_at.
func (s *Store) AddComment(threadID domain.ID, authorType domain.AuthorType, body string) (domain.CommentThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.st.Threads[threadID]
	if !ok {
		return domain.CommentThread{}, domain.NotFound("thread %s not found", threadID)
	}

	now := time.Now().UTC()
	comment := domain.Comment{
		ID:         domain.NewID(),
		AuthorType: authorType,
		Body:       body,
		CreatedAt:  now,
	}

	prevComments := th.Comments
	prevUpdated := th.UpdatedAt
	th.Comments = append(th.Comments, comment)
	th.UpdatedAt = now

	if err := s.persist(); err != nil {
		th.Comments = prevComments
		th.UpdatedAt = prevUpdated
		return domain.CommentThread{}, err
	}
	return *th, nil
}

// CreateRevision requires an existing review; revision_number is
// 1 + the current max for that review.
func (s *Store) CreateRevision(reviewID domain.ID, trigger domain.RevisionTrigger, message *string, files []domain.FileDiff) (domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return domain.Revision{}, domain.NotFound("review %s not found", reviewID)
	}

	nextNumber := 1
	if latest := s.latestRevisionLocked(reviewID); latest != nil {
		nextNumber = latest.RevisionNumber + 1
	}

	rev := domain.Revision{
		ID:             domain.NewID(),
		ReviewID:       reviewID,
		RevisionNumber: nextNumber,
		Trigger:        trigger,
		Message:        message,
		Files:          files,
		CreatedAt:      time.Now().UTC(),
	}

	s.st.Revisions[rev.ID] = &rev
	if err := s.persist(); err != nil {
		delete(s.st.Revisions, rev.ID)
		return domain.Revision{}, err
	}
	return rev, nil
}

// GetRevisions returns every revision for a review, sorted ascending by
// revision number.
func (s *Store) GetRevisions(reviewID domain.ID) ([]domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return nil, domain.NotFound("review %s not found", reviewID)
	}

	var out []domain.Revision
	for _, rev := range s.st.Revisions {
		if rev.ReviewID == reviewID {
			out = append(out, *rev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RevisionNumber < out[j].RevisionNumber
	})
	return out, nil
}

// GetRevision returns the revision with the given number for a review.
func (s *Store) GetRevision(reviewID domain.ID, number int) (domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return domain.Revision{}, domain.NotFound("review %s not found", reviewID)
	}
	for _, rev := range s.st.Revisions {
		if rev.ReviewID == reviewID && rev.RevisionNumber == number {
			return *rev, nil
		}
	}
	return domain.Revision{}, domain.NotFound("revision %d not found for review %s", number, reviewID)
}

// GetLatestRevision returns the highest-numbered revision for a review.
func (s *Store) GetLatestRevision(reviewID domain.ID) (domain.Revision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.Reviews[reviewID]; !ok {
		return domain.Revision{}, domain.NotFound("review %s not found", reviewID)
	}
	latest := s.latestRevisionLocked(reviewID)
	if latest == nil {
		return domain.Revision{}, domain.NotFound("no revisions for review %s", reviewID)
	}
	return *latest, nil
}

// latestRevisionLocked returns the highest-numbered revision for a review,
// or nil. Callers must hold mu.
func (s *Store) latestRevisionLocked(reviewID domain.ID) *domain.Revision {
	var latest *domain.Revision
	for _, rev := range s.st.Revisions {
		if rev.ReviewID != reviewID {
			continue
		}
		if latest == nil || rev.RevisionNumber > latest.RevisionNumber {
			latest = rev
		}
	}
	return latest
}

// Reset discards all in-memory state and persists an empty snapshot,
// backing the --fresh CLI flag.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.st
	s.st = newState()
	if err := s.persist(); err != nil {
		s.st = prev
		return err
	}
	return nil
}
