package store

import (
	"time"

	"github.com/google/uuid"
)

// Document types. One value per connector kind plus the direct ingest
// paths. These are stable string values; they appear in rows, task logs,
// and retrieval envelopes.
const (
	TypeFile           = "FILE"
	TypeCrawledURL     = "CRAWLED_URL"
	TypeExtension      = "EXTENSION"
	TypeYouTubeVideo   = "YOUTUBE_VIDEO"
	TypeSlack          = "SLACK_CONNECTOR"
	TypeNotion         = "NOTION_CONNECTOR"
	TypeGitHub         = "GITHUB_CONNECTOR"
	TypeLinear         = "LINEAR_CONNECTOR"
	TypeJira           = "JIRA_CONNECTOR"
	TypeDiscord        = "DISCORD_CONNECTOR"
	TypeConfluence     = "CONFLUENCE_CONNECTOR"
	TypeClickUp        = "CLICKUP_CONNECTOR"
	TypeGmail          = "GOOGLE_GMAIL_CONNECTOR"
	TypeGoogleCalendar = "GOOGLE_CALENDAR_CONNECTOR"
	TypeGoogleDrive    = "GOOGLE_DRIVE_CONNECTOR"
	TypeAirtable       = "AIRTABLE_CONNECTOR"
	TypeLuma           = "LUMA_CONNECTOR"
	TypeCircleback     = "CIRCLEBACK_CONNECTOR"
)

// SearchSpace is the per-user container everything else belongs to.
type SearchSpace struct {
	ID          uuid.UUID
	UserID      string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Document is one ingested item. Summary and its embedding rank the
// document as a whole; chunks carry the retrievable content.
type Document struct {
	ID            uuid.UUID
	SearchSpaceID uuid.UUID
	DocumentType  string
	Title         string
	Metadata      map[string]any
	Summary       string
	ContentHash   string
	// UniqueIdentifierHash is "" for documents without a stable source id
	// (stored as NULL so the unique constraint only binds real ids).
	UniqueIdentifierHash string
	ConnectorID          *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Chunk is one retrievable fragment of a document.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Content    string
}

// Connector is the per-user configuration of one external source.
type Connector struct {
	ID            uuid.UUID
	UserID        string
	SearchSpaceID uuid.UUID
	ConnectorType string
	Name          string
	// Config holds credentials and per-source options; sensitive fields
	// arrive encrypted with "<field>_encrypted": true markers.
	Config        map[string]any
	LastIndexedAt *time.Time
	// PageToken is the opaque resumption token for sources with native
	// change feeds (Drive change-page token).
	PageToken        string
	ConfigModifiedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Chat message roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleTool      = "tool"
)

type Chat struct {
	ID            uuid.UUID
	SearchSpaceID uuid.UUID
	Title         string
	CreatedAt     time.Time
}

type ChatMessage struct {
	ID      uuid.UUID
	ChatID  uuid.UUID
	Role    string
	Content string
	// Citations carries the chunk ids an assistant turn cited.
	Citations []int64
	CreatedAt time.Time
}

// Report is one generated Markdown artifact. ReportGroupID equals ID for
// v1 and is inherited by revisions.
type Report struct {
	ID             uuid.UUID
	SearchSpaceID  uuid.UUID
	ReportGroupID  uuid.UUID
	Title          string
	Content        string
	WordCount      int
	CharacterCount int
	SectionCount   int
	CreatedAt      time.Time
}

// Podcast lifecycle states.
const (
	PodcastPending    = "PENDING"
	PodcastGenerating = "GENERATING"
	PodcastReady      = "READY"
	PodcastFailed     = "FAILED"
)

type Podcast struct {
	ID            uuid.UUID
	SearchSpaceID uuid.UUID
	Title         string
	Status        string
	AudioPath     string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UserMemory struct {
	ID        uuid.UUID
	UserID    string
	Category  string
	Content   string
	CreatedAt time.Time
}

// Task log statuses.
const (
	TaskRunning = "running"
	TaskSuccess = "success"
	TaskFailure = "failure"
)

type TaskLog struct {
	ID        uuid.UUID
	TaskName  string
	Source    string
	Stage     string
	Status    string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Job queue statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// JobKindPodcast is the queue kind for podcast generation jobs.
const JobKindPodcast = "podcast.generate"

type Job struct {
	ID        uuid.UUID
	Kind      string
	Payload   map[string]any
	Status    string
	Attempts  int
	RunAfter  time.Time
	LockedBy  string
	LockedAt  *time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
