package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// ContentHash is the sha256 hex digest stored next to every message.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Message roles accepted by the messages.role check constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
	RoleSummary   = "summary"
)

// Roles lists every valid role.
var Roles = []string{RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleSummary}

// ValidRole reports whether r is one of Roles.
func ValidRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// Conversation is one transcript file.
type Conversation struct {
	ID               uuid.UUID       `json:"id"`
	ProjectName      string          `json:"project_name"`
	ProjectPath      string          `json:"project_path,omitempty"`
	ProjectDir       string          `json:"project_dir,omitempty"`
	SessionID        string          `json:"session_id"`
	FilePath         string          `json:"file_path"`
	GitBranch        string          `json:"git_branch,omitempty"`
	WorkingDirectory string          `json:"working_directory,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
	MessageCount     int             `json:"message_count"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Message is one normalized record of a conversation.
type Message struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	MessageUUID    string          `json:"message_uuid"`
	Seq            int             `json:"seq"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ContentHash    string          `json:"content_hash"`
	Embedding      []float32       `json:"-"`
	EmbeddingModel string          `json:"embedding_model,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	ToolUses       json.RawMessage `json:"tool_uses,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// TechnicalEvent is a structured fact derived from a message's tool activity.
type TechnicalEvent struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	MessageID      uuid.UUID       `json:"message_id"`
	MessageUUID    string          `json:"message_uuid"`
	EventType      string          `json:"event_type"`
	FilePath       string          `json:"file_path,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
}

// EmbeddingModelInfo records a model that has written vectors.
type EmbeddingModelInfo struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	Messages   int       `json:"messages"`
}

// MessageDigest is the stored state the pipeline compares against before
// deciding what to re-embed.
type MessageDigest struct {
	ContentHash    string
	HasEmbedding   bool
	EmbeddingModel string
}

// IngestBatch is everything written for one conversation in one transaction.
// Conversation.ID is ignored; rows are matched on (SessionID, FilePath).
// Events reference messages by MessageUUID.
type IngestBatch struct {
	Conversation Conversation
	Messages     []Message
	Events       []TechnicalEvent
	// Model and Dimensions describe vectors carried in Messages, if any.
	Model      string
	Dimensions int
}

// IngestOutcome reports what IngestConversation changed.
type IngestOutcome struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Created        bool      `json:"created"`
	Inserted       int       `json:"inserted"`
	Updated        int       `json:"updated"`
	Unchanged      int       `json:"unchanged"`
	Removed        int       `json:"removed"`
	Events         int       `json:"events"`
}

// Changed reports whether any message row was written or removed.
func (o *IngestOutcome) Changed() bool { return o.Inserted+o.Updated+o.Removed > 0 }

// PendingEmbedding is a message that has no vector for the current model.
type PendingEmbedding struct {
	MessageID   uuid.UUID
	Content     string
	ContentHash string
}

// EmbeddingUpdate writes a vector computed from the content with ContentHash.
type EmbeddingUpdate struct {
	MessageID   uuid.UUID
	ContentHash string
	Embedding   []float32
}

// SearchFilter narrows a search. All set fields combine with AND.
type SearchFilter struct {
	Project     string // case-insensitive substring of project_name
	Role        string
	After       *time.Time // inclusive
	Before      *time.Time // exclusive
	MaxDistance float64    // inclusive; semantic only
	Model       string     // only vectors from this model are compared
	Limit       int        // candidates to return
}

// SearchHit is one matched message with its conversation context.
type SearchHit struct {
	MessageID      uuid.UUID  `json:"message_id"`
	MessageUUID    string     `json:"message_uuid"`
	Seq            int        `json:"seq"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	Distance       float64    `json:"distance"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	SessionID      string     `json:"session_id"`
	ProjectName    string     `json:"project_name"`
	ProjectPath    string     `json:"project_path,omitempty"`
	GitBranch      string     `json:"git_branch,omitempty"`
	FilePath       string     `json:"file_path"`
}

// ProjectInfo summarizes one project.
type ProjectInfo struct {
	Name          string     `json:"name"`
	Path          string     `json:"path,omitempty"`
	Conversations int        `json:"conversations"`
	Messages      int        `json:"messages"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// Stats are corpus-wide counters.
type Stats struct {
	Conversations  int                  `json:"conversations"`
	Messages       int                  `json:"messages"`
	Embedded       int                  `json:"embedded"`
	Events         int                  `json:"events"`
	Projects       int                  `json:"projects"`
	MessagesByRole map[string]int       `json:"messages_by_role"`
	EventsByType   map[string]int       `json:"events_by_type"`
	Models         []EmbeddingModelInfo `json:"models"`
	FirstMessage   *time.Time           `json:"first_message,omitempty"`
	LastMessage    *time.Time           `json:"last_message,omitempty"`
}
