// Package memory defines the canonical memory record stored in the vector
// store, the closed enumerations it references, and payload validation.
//
// A record is exclusively owned by its (collection, group_id) partition.
// Nothing mutates a record after insert except the freshness scanner, which
// writes freshness_status / freshness_checked_at back onto the payload.
package memory

import (
	"time"
)

// Collection names the fixed vector-store partitions.
type Collection string

const (
	CollectionCodePatterns Collection = "code-patterns"
	CollectionConventions  Collection = "conventions"
	CollectionDiscussions  Collection = "discussions"
	CollectionJiraData     Collection = "jira-data"
)

// Collections lists every known collection.
var Collections = []Collection{
	CollectionCodePatterns,
	CollectionConventions,
	CollectionDiscussions,
	CollectionJiraData,
}

// Type classifies what a memory captures. The set is closed; anything
// outside it fails validation.
type Type string

const (
	TypeImplementation Type = "implementation"
	TypeErrorFix       Type = "error_fix"
	TypeRefactor       Type = "refactor"
	TypeRule           Type = "rule"
	TypeGuideline      Type = "guideline"
	TypeDecision       Type = "decision"
	TypeSessionSummary Type = "session_summary"
	TypeUserMessage    Type = "user_message"
	TypeAgentResponse  Type = "agent_response"
	TypeBestPractice   Type = "best_practice"

	// Connector-specific types written by the GitHub/Jira ingesters.
	TypeGitHubCodeBlob Type = "github_code_blob"
	TypeGitHubCommit   Type = "github_commit"
	TypeJiraIssue      Type = "jira_issue"
	TypeJiraComment    Type = "jira_comment"
)

// collectionTypes maps each collection to the types valid inside it.
var collectionTypes = map[Collection][]Type{
	CollectionCodePatterns: {TypeImplementation, TypeErrorFix, TypeRefactor},
	CollectionConventions:  {TypeRule, TypeGuideline, TypeDecision, TypeBestPractice},
	CollectionDiscussions: {
		TypeSessionSummary, TypeUserMessage, TypeAgentResponse,
		TypeGitHubCodeBlob, TypeGitHubCommit,
	},
	CollectionJiraData: {TypeJiraIssue, TypeJiraComment},
}

// KnownType reports whether t belongs to the closed type set.
func KnownType(t Type) bool {
	for _, types := range collectionTypes {
		for _, v := range types {
			if v == t {
				return true
			}
		}
	}
	return false
}

// Allows reports whether t is valid for collection c.
func (c Collection) Allows(t Type) bool {
	for _, v := range collectionTypes[c] {
		if v == t {
			return true
		}
	}
	return false
}

// Types returns the valid types for collection c.
func (c Collection) Types() []Type {
	out := make([]Type, len(collectionTypes[c]))
	copy(out, collectionTypes[c])
	return out
}

// KnownCollection reports whether c is one of the fixed collections.
func KnownCollection(c Collection) bool {
	_, ok := collectionTypes[c]
	return ok
}

// SourceHook identifies the capture entry point that produced a record.
type SourceHook string

const (
	HookPostToolUse      SourceHook = "PostToolUse"
	HookUserPromptSubmit SourceHook = "UserPromptSubmit"
	HookStop             SourceHook = "Stop"
	HookSessionStart     SourceHook = "SessionStart"
	HookPreCompact       SourceHook = "PreCompact"
	HookManual           SourceHook = "manual"
	HookConnector        SourceHook = "connector"
)

var sourceHooks = map[SourceHook]bool{
	HookPostToolUse:      true,
	HookUserPromptSubmit: true,
	HookStop:             true,
	HookSessionStart:     true,
	HookPreCompact:       true,
	HookManual:           true,
	HookConnector:        true,
}

// KnownSourceHook reports whether h is a recognized capture entry point.
func KnownSourceHook(h SourceHook) bool {
	return sourceHooks[h]
}

// EmbeddingStatus tracks whether a record carries a real vector.
type EmbeddingStatus string

const (
	EmbeddingComplete EmbeddingStatus = "complete"
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

// FreshnessStatus classifies how stale a code-pattern record is relative
// to its source file.
type FreshnessStatus string

const (
	FreshnessFresh   FreshnessStatus = "fresh"
	FreshnessAging   FreshnessStatus = "aging"
	FreshnessStale   FreshnessStatus = "stale"
	FreshnessExpired FreshnessStatus = "expired"
	FreshnessUnknown FreshnessStatus = "unknown"
)

// Record is the canonical stored unit.
type Record struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	GroupID     string     `json:"group_id"`
	Type        Type       `json:"type"`
	SourceHook  SourceHook `json:"source_hook"`
	SessionID   string     `json:"session_id,omitempty"`
	StoredAt    time.Time  `json:"stored_at"`

	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	EmbeddingModel  string          `json:"embedding_model,omitempty"`

	Domain        string   `json:"domain,omitempty"`
	Importance    string   `json:"importance,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Relationships []string `json:"relationships,omitempty"`

	Collection Collection `json:"collection"`
	TurnNumber int        `json:"turn_number,omitempty"`

	// Connector fields.
	JiraIssueKey    string          `json:"jira_issue_key,omitempty"`
	BlobHash        string          `json:"blob_hash,omitempty"`
	FreshnessStatus FreshnessStatus `json:"freshness_status,omitempty"`
	FilePath        string          `json:"file_path,omitempty"`
}

// Payload converts the record into the flat payload map stored alongside
// its vector. stored_at is serialized as RFC 3339 UTC so server-side decay
// expressions can parse it.
func (r *Record) Payload() map[string]any {
	p := map[string]any{
		"content":          r.Content,
		"content_hash":     r.ContentHash,
		"group_id":         r.GroupID,
		"type":             string(r.Type),
		"source_hook":      string(r.SourceHook),
		"stored_at":        r.StoredAt.UTC().Format(time.RFC3339),
		"embedding_status": string(r.EmbeddingStatus),
		"collection":       string(r.Collection),
	}
	if r.SessionID != "" {
		p["session_id"] = r.SessionID
	}
	if r.EmbeddingModel != "" {
		p["embedding_model"] = r.EmbeddingModel
	}
	if r.Domain != "" {
		p["domain"] = r.Domain
	}
	if r.Importance != "" {
		p["importance"] = r.Importance
	}
	if len(r.Tags) > 0 {
		p["tags"] = r.Tags
	}
	if len(r.Relationships) > 0 {
		p["relationships"] = r.Relationships
	}
	if r.TurnNumber > 0 {
		p["turn_number"] = r.TurnNumber
	}
	if r.JiraIssueKey != "" {
		p["jira_issue_key"] = r.JiraIssueKey
	}
	if r.BlobHash != "" {
		p["blob_hash"] = r.BlobHash
	}
	if r.FreshnessStatus != "" {
		p["freshness_status"] = string(r.FreshnessStatus)
	}
	if r.FilePath != "" {
		p["file_path"] = r.FilePath
	}
	return p
}
