// Package domain defines the persistence models of the unified inbox:
// contacts and their channel identities, threads and messages, annotation
// snapshots, feeds and smart filters. These types are mapped with GORM and
// shared by the repository, service and HTTP layers.
package domain

import (
	"time"
)

// Tier is the customer tier of a Contact.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierVIP      Tier = "vip"
)

// Rank orders tiers from standard (0) to vip (2).
func (t Tier) Rank() int {
	switch t {
	case TierVIP:
		return 2
	case TierPremium:
		return 1
	default:
		return 0
	}
}

// Contact is the unified person a set of channel identities resolves to.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - DisplayName: best known human name.
//   - NameKey: case-folded, accent-stripped name used for exact matching.
//   - NameBlock: short prefix of NameKey used to fetch fuzzy candidates.
//   - Tier: customer tier (standard, premium, vip).
//   - Active: false once the contact has been merged into another.
//   - MergedInto: surviving contact when inactive.
//   - Version: optimistic concurrency counter bumped on every merge/unmerge.
type Contact struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	NameKey     string    `json:"-"            gorm:"type:varchar(255);not null;default:'';index:idx_contact_name"`
	NameBlock   string    `json:"-"            gorm:"type:varchar(16);not null;default:'';index:idx_contact_block"`
	Tier        Tier      `json:"tier"         gorm:"type:varchar(16);not null;default:'standard'"`
	Active      bool      `json:"active"       gorm:"not null;default:true;index"`
	MergedInto  *string   `json:"merged_into,omitempty" gorm:"type:char(36);index"`
	Version     int64     `json:"version"      gorm:"not null;default:1"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Identities []Identity `json:"identities,omitempty" gorm:"foreignKey:ContactID;references:ID"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Identity is a (channel, address) pair. The pair never changes once
// created; only the owning contact does.
type Identity struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Channel     Channel   `json:"channel"      gorm:"type:varchar(16);not null;uniqueIndex:ux_identity_address,priority:1"`
	Address     string    `json:"address"      gorm:"type:varchar(320);not null;uniqueIndex:ux_identity_address,priority:2"`
	ContactID   string    `json:"contact_id"   gorm:"type:char(36);not null;index"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null;default:''"`
	Email       string    `json:"email,omitempty" gorm:"type:varchar(320);not null;default:'';index"`
	Phone       string    `json:"phone,omitempty" gorm:"type:varchar(32);not null;default:'';index"`
	CreatedAt   time.Time `json:"created_at"`

	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Identity.
func (Identity) TableName() string { return "identities" }

// ProvenanceKind names the event a ProvenanceEntry records.
type ProvenanceKind string

const (
	ProvenanceCreated    ProvenanceKind = "created"
	ProvenanceAttached   ProvenanceKind = "auto_attach"
	ProvenanceMerge      ProvenanceKind = "merge"
	ProvenanceMergedInto ProvenanceKind = "merged_into"
	ProvenanceUnmerge    ProvenanceKind = "unmerge"
	ProvenanceRestored   ProvenanceKind = "restored"
)

// ActorSystem marks provenance written by automatic resolution.
const ActorSystem = "system"

// ProvenanceEntry is an append-only audit record on a contact. For merge
// entries IdentityID is the identity that moved and OtherContactID the
// contact it came from; for unmerge entries OtherContactID is where it went.
type ProvenanceEntry struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	ContactID      string         `json:"contact_id"       gorm:"type:char(36);not null;index:idx_prov_contact,priority:1"`
	Kind           ProvenanceKind `json:"kind"             gorm:"type:varchar(16);not null"`
	Actor          string         `json:"actor"            gorm:"type:varchar(64);not null"`
	IdentityID     *string        `json:"identity_id,omitempty"      gorm:"type:char(36);index"`
	OtherContactID *string        `json:"other_contact_id,omitempty" gorm:"type:char(36)"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Signals        []string       `json:"signals,omitempty" gorm:"serializer:json;type:text"`
	CreatedAt      time.Time      `json:"created_at"       gorm:"index:idx_prov_contact,priority:2"`
}

// TableName returns the database table name for ProvenanceEntry.
func (ProvenanceEntry) TableName() string { return "provenance" }

// SuggestionStatus is the review state of a MergeSuggestion.
type SuggestionStatus string

const (
	SuggestionPending    SuggestionStatus = "pending"
	SuggestionAccepted   SuggestionStatus = "accepted"
	SuggestionRejected   SuggestionStatus = "rejected"
	SuggestionSuperseded SuggestionStatus = "superseded"
)

// MergeSuggestion proposes folding ContactID into CandidateID. It is
// created when a new identity matched an existing contact with confidence
// between the suggestion floor and the auto-merge threshold.
type MergeSuggestion struct {
	ID          string           `json:"id"           gorm:"type:char(36);primaryKey"`
	ContactID   string           `json:"contact_id"   gorm:"type:char(36);not null;index"`
	CandidateID string           `json:"candidate_id" gorm:"type:char(36);not null;index"`
	IdentityID  string           `json:"identity_id"  gorm:"type:char(36);not null"`
	Confidence  float64          `json:"confidence"   gorm:"not null"`
	Signals     []string         `json:"signals"      gorm:"serializer:json;type:text"`
	Status      SuggestionStatus `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index"`
	ResolvedBy  string           `json:"resolved_by,omitempty" gorm:"type:varchar(64);not null;default:''"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TableName returns the database table name for MergeSuggestion.
func (MergeSuggestion) TableName() string { return "merge_suggestions" }

// ThreadStatus is the lifecycle state of a Thread.
type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadArchived ThreadStatus = "archived"
	ThreadMerged   ThreadStatus = "merged"
)

// Thread is a conversation with one contact that may span channels.
//
// Version increases on every appended message and every thread merge.
// AnnotatedVersion is the Version the current annotation snapshot was
// computed for; the thread is stale while it lags. PriorityScore caches
// the last computed score so feeds can be sorted in SQL.
type Thread struct {
	ID               string       `json:"id"                 gorm:"type:char(36);primaryKey"`
	ContactID        string       `json:"contact_id"         gorm:"type:char(36);not null;index:idx_contact_threads,priority:1"`
	Subject          string       `json:"subject"            gorm:"type:varchar(255);not null;default:''"`
	Status           ThreadStatus `json:"status"             gorm:"type:varchar(16);not null;default:'open';index;check:status IN ('open','archived','merged')"`
	MergedInto       *string      `json:"merged_into,omitempty" gorm:"type:char(36)"`
	FirstMessageAt   time.Time    `json:"first_message_at"`
	LastMessageAt    time.Time    `json:"last_message_at"    gorm:"index:idx_contact_threads,priority:2"`
	LastInboundAt    *time.Time   `json:"last_inbound_at,omitempty"`
	LastChannel      Channel      `json:"last_channel"       gorm:"type:varchar(16);not null;default:''"`
	MessageCount     int          `json:"message_count"      gorm:"not null;default:0"`
	Unread           bool         `json:"unread"             gorm:"not null;default:false"`
	Tags             []string     `json:"tags"               gorm:"serializer:json;type:text"`
	Assignee         string       `json:"assignee"           gorm:"type:varchar(64);not null;default:''"`
	Priority         Priority     `json:"priority,omitempty" gorm:"type:varchar(16);not null;default:''"`
	Version          int64        `json:"version"            gorm:"not null;default:0"`
	AnnotatedVersion int64        `json:"annotated_version"  gorm:"not null;default:0"`
	AnnotationFailed bool         `json:"annotation_failed"  gorm:"not null;default:false"`
	NeedsReview      bool         `json:"needs_review"       gorm:"not null;default:false"`
	AcknowledgedAt   *time.Time   `json:"acknowledged_at,omitempty"`
	PriorityScore    int          `json:"priority_score"     gorm:"not null;default:0;index"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`

	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// Stale reports whether the thread's annotation lags its messages.
func (t Thread) Stale() bool { return t.AnnotatedVersion < t.Version }

// Message is one entry in a thread. Messages are ordered by (SentAt,
// Ordinal). Internal notes have no sender identity and are never sent to
// the annotation service.
type Message struct {
	ID               string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	ThreadID         string    `json:"thread_id"          gorm:"type:char(36);not null;index:idx_thread_msgs,priority:1"`
	SentAt           time.Time `json:"sent_at"            gorm:"not null;index:idx_thread_msgs,priority:2"`
	Ordinal          int       `json:"ordinal"            gorm:"not null;index:idx_thread_msgs,priority:3"`
	Channel          Channel   `json:"channel"            gorm:"type:varchar(16);not null"`
	SenderIdentityID *string   `json:"sender_identity_id,omitempty" gorm:"type:char(36);index"`
	ExternalID       string    `json:"external_id,omitempty" gorm:"type:varchar(255);not null;default:''"`
	Body             string    `json:"body"               gorm:"type:text;not null"`
	Attachments      []string  `json:"attachments,omitempty" gorm:"serializer:json;type:text"`
	Internal         bool      `json:"internal"           gorm:"not null;default:false"`
	Author           string    `json:"author,omitempty"   gorm:"type:varchar(64);not null;default:''"`
	CreatedAt        time.Time `json:"created_at"`

	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Deadline is a dated commitment extracted from a conversation.
type Deadline struct {
	Task string    `json:"task"`
	Due  time.Time `json:"due"`
}

// AnnotationSnapshot is the latest accepted annotation of a thread.
// Revision counts accepted annotations; ComputedForVersion is the thread
// Version the annotation service saw.
type AnnotationSnapshot struct {
	ID                 string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	ThreadID           string     `json:"thread_id"            gorm:"type:char(36);not null;uniqueIndex"`
	Sentiment          Sentiment  `json:"sentiment"            gorm:"type:varchar(16);not null;default:''"`
	Intent             string     `json:"intent"               gorm:"type:varchar(64);not null;default:''"`
	Tasks              []string   `json:"tasks"                gorm:"serializer:json;type:text"`
	Deadlines          []Deadline `json:"deadlines"            gorm:"serializer:json;type:text"`
	Confidence         float64    `json:"confidence"           gorm:"not null;default:0"`
	SuggestedTags      []string   `json:"suggested_tags"       gorm:"serializer:json;type:text"`
	SuggestedPriority  Priority   `json:"suggested_priority"   gorm:"type:varchar(16);not null;default:''"`
	ComputedForVersion int64      `json:"computed_for_version" gorm:"not null"`
	Revision           int64      `json:"revision"             gorm:"not null;default:1"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AnnotationSnapshot.
func (AnnotationSnapshot) TableName() string { return "annotations" }

// Feed is a saved, ranked view of threads defined by smart filters.
// A thread belongs to the feed when the mean filter score reaches
// Threshold. Weight contributes to the priority of member threads.
type Feed struct {
	ID          string        `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string        `json:"name"        gorm:"type:varchar(128);not null;uniqueIndex"`
	Description string        `json:"description" gorm:"type:varchar(512);not null;default:''"`
	Threshold   float64       `json:"threshold"   gorm:"not null;default:0.5"`
	Weight      int           `json:"weight"      gorm:"not null;default:0"`
	Version     int64         `json:"version"     gorm:"not null;default:1"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Filters     []SmartFilter `json:"filters"     gorm:"foreignKey:FeedID;references:ID"`
}

// TableName returns the database table name for Feed.
func (Feed) TableName() string { return "feeds" }

// SmartFilter is one predicate of a feed. Position only affects display.
type SmartFilter struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	FeedID    string    `json:"feed_id"   gorm:"type:char(36);not null;index:idx_feed_filters,priority:1"`
	Position  int       `json:"position"  gorm:"not null;index:idx_feed_filters,priority:2"`
	Label     string    `json:"label"     gorm:"type:varchar(255);not null;default:''"`
	Predicate Predicate `json:"predicate" gorm:"serializer:json;type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for SmartFilter.
func (SmartFilter) TableName() string { return "smart_filters" }

// InboundReceipt records an accepted connector delivery keyed by
// (channel, external message id) so redelivered messages resolve to the
// message they already produced.
type InboundReceipt struct {
	ID                string    `gorm:"type:char(36);primaryKey"`
	Channel           Channel   `gorm:"type:varchar(16);not null;uniqueIndex:ux_receipt_external,priority:1"`
	ExternalMessageID string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_receipt_external,priority:2"`
	MessageID         string    `gorm:"type:char(36);not null"`
	ThreadID          string    `gorm:"type:char(36);not null;index"`
	ContactID         string    `gorm:"type:char(36);not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (InboundReceipt) TableName() string { return "inbound_receipts" }

// AllModels lists every model for migrations.
func AllModels() []any {
	return []any{
		&Contact{}, &Identity{}, &ProvenanceEntry{}, &MergeSuggestion{},
		&Thread{}, &Message{}, &AnnotationSnapshot{},
		&Feed{}, &SmartFilter{}, &InboundReceipt{},
	}
}
