// Package domain holds the types shared by the review state core: reviews,
// revisions, diffs, threads and the ephemeral side-state the service keeps
// about agent presence and per-thread status.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier for a review, revision, thread or
// comment.
type ID = uuid.UUID

// NewID returns a fresh random ID.
func NewID() ID {
	return uuid.New()
}

// ParseID parses the string form of an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}

// ReviewStatus is the lifecycle state of a Review.
type ReviewStatus string

const (
	ReviewOpen   ReviewStatus = "Open"
	ReviewClosed ReviewStatus = "Closed"
)

// RevisionTrigger records what caused a revision to be created.
type RevisionTrigger string

const (
	TriggerAgent  RevisionTrigger = "Agent"
	TriggerManual RevisionTrigger = "Manual"
)

// FileStatus describes how a file changed within a revision.
type FileStatus string

const (
	FileAdded    FileStatus = "Added"
	FileModified FileStatus = "Modified"
	FileDeleted  FileStatus = "Deleted"
	FileRenamed  FileStatus = "Renamed"
	FileBinary   FileStatus = "Binary"
)

// LineKind is the kind of a single diff line.
type LineKind string

const (
	LineContext LineKind = "Context"
	LineAdded   LineKind = "Added"
	LineRemoved LineKind = "Removed"
)

// ThreadOrigin records why a CommentThread was created.
type ThreadOrigin string

const (
	OriginComment           ThreadOrigin = "Comment"
	OriginExplanationReq    ThreadOrigin = "ExplanationRequest"
	OriginAgentExplanation  ThreadOrigin = "AgentExplanation"
)

// ThreadStatus is the lifecycle state of a CommentThread.
type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "Open"
	ThreadResolved ThreadStatus = "Resolved"
)

// AuthorType records who wrote a Comment.
type AuthorType string

const (
	AuthorHuman AuthorType = "Human"
	AuthorAgent AuthorType = "Agent"
)

// AgentStatusTag is the ephemeral per-thread agent lifecycle tag.
type AgentStatusTag string

const (
	AgentSeen    AgentStatusTag = "Seen"
	AgentWorking AgentStatusTag = "Working"
)

// Review is a handle to a working tree under review.
type Review struct {
	ID        ID           `json:"id"`
	Title     *string      `json:"title,omitempty"`
	Status    ReviewStatus `json:"status"`
	RepoPath  string       `json:"repo_path"`
	BaseRef   string       `json:"base_ref"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ReviewSummary is the list-view projection of a Review with derived counts.
type ReviewSummary struct {
	Review
	ThreadCount     int `json:"thread_count"`
	OpenThreadCount int `json:"open_thread_count"`
	FileCount       int `json:"file_count"`
}

// Revision is one numbered snapshot of a review's working-tree diff.
type Revision struct {
	ID             ID              `json:"id"`
	ReviewID       ID              `json:"review_id"`
	RevisionNumber int             `json:"revision_number"`
	Trigger        RevisionTrigger `json:"trigger"`
	Message        *string         `json:"message,omitempty"`
	Files          []FileDiff      `json:"files"`
	CreatedAt      time.Time       `json:"created_at"`
}

// FileDiff is the change to a single file within a revision.
type FileDiff struct {
	OldPath *string    `json:"old_path,omitempty"`
	NewPath *string    `json:"new_path,omitempty"`
	Status  FileStatus `json:"status"`
	Hunks   []Hunk     `json:"hunks"`
}

// EffectivePath returns NewPath if present, else OldPath.
func (f FileDiff) EffectivePath() string {
	if f.NewPath != nil {
		return *f.NewPath
	}
	if f.OldPath != nil {
		return *f.OldPath
	}
	return ""
}

// Hunk is a contiguous block of a unified diff.
type Hunk struct {
	OldStart int        `json:"old_start"`
	OldCount int        `json:"old_count"`
	NewStart int        `json:"new_start"`
	NewCount int        `json:"new_count"`
	Context  *string    `json:"context,omitempty"`
	Lines    []DiffLine `json:"lines"`
}

// DiffLine is a single line within a Hunk.
type DiffLine struct {
	Kind        LineKind `json:"kind"`
	Content     string   `json:"content"`
	OldLineNo   *int     `json:"old_line_no,omitempty"`
	NewLineNo   *int     `json:"new_line_no,omitempty"`
	Highlighted *string  `json:"highlighted,omitempty"`
}

// CommentThread is a discussion anchored to a file and line range.
type CommentThread struct {
	ID             ID           `json:"id"`
	ReviewID       ID           `json:"review_id"`
	FilePath       string       `json:"file_path"`
	LineStart      int          `json:"line_start"`
	LineEnd        int          `json:"line_end"`
	Origin         ThreadOrigin `json:"origin"`
	Status         ThreadStatus `json:"status"`
	Comments       []Comment    `json:"comments"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	RevisionNumber *int         `json:"revision_number,omitempty"`
	Snippet        *string      `json:"snippet,omitempty"`

	// AgentStatus is ephemeral, never persisted; populated by the service
	// when returning threads to callers.
	AgentStatus *AgentStatusTag `json:"agent_status,omitempty"`
}

// Comment is a single message within a CommentThread.
type Comment struct {
	ID         ID         `json:"id"`
	AuthorType AuthorType `json:"author_type"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

// WsEvent is the canonical event published on the event bus and sent to
// every WebSocket / MCP listener.
type WsEvent struct {
	EventType string      `json:"event_type"`
	ReviewID  ID          `json:"review_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Event type constants — the closed set from spec.md §4.7.
const (
	EventReviewCreated        = "review_created"
	EventReviewStatusChanged  = "review_status_changed"
	EventReviewDeleted        = "review_deleted"
	EventRevisionCreated      = "revision_created"
	EventThreadCreated        = "thread_created"
	EventCommentAdded         = "comment_added"
	EventThreadStatusChanged  = "thread_status_changed"
	EventThreadAcknowledged   = "thread_acknowledged"
	EventThreadPoked          = "thread_poked"
	EventRevisionRequested    = "revision_requested"
	EventAgentPresenceChanged = "agent_presence_changed"
)
