package topic

import "time"

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// Conversation is one imported chat. Rows are immutable after ingestion;
// re-ingesting the same export is a no-op per id.
type Conversation struct {
	ID           string     `gorm:"primaryKey;size:191" json:"id"`
	UserID       string     `gorm:"size:36;index" json:"-"`
	Title        string     `gorm:"size:512" json:"title"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
	MessageCount int        `json:"message_count"`
	ModelSlug    string     `gorm:"size:64" json:"model_slug,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             string     `gorm:"primaryKey;size:191" json:"id"`
	ConversationID string     `gorm:"size:191;index;not null" json:"conversation_id"`
	Role           string     `gorm:"size:16;not null" json:"role"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	CreatedAt      *time.Time `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

type TopicStatus string

const (
	StatusActive   TopicStatus = "active"
	StatusArchived TopicStatus = "archived"
)

// Topic is a rabbit hole: a recurring subject clustered from one or more
// conversations. PriorityScore is a recomputed heuristic, not authoritative.
type Topic struct {
	ID               uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string      `gorm:"size:36;index" json:"-"`
	Name             string      `gorm:"size:255;not null" json:"name"`
	Description      string      `gorm:"type:text" json:"description"`
	Status           TopicStatus `gorm:"size:16;index;default:active" json:"status"`
	PriorityScore    float64     `json:"priority_score"`
	LastResearchedAt *time.Time  `json:"last_researched_at"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func (Topic) TableName() string { return "rabbit_holes" }

type TopicConversation struct {
	TopicID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	ConversationID string `gorm:"primaryKey;size:191"`
}

func (TopicConversation) TableName() string { return "rabbit_hole_conversations" }

type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Insight is append-only synthesized research output for a topic.
type Insight struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TopicID   uint64    `gorm:"index;not null" json:"rabbit_hole_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Grounded  bool      `json:"grounded"`
	Urgency   Urgency   `gorm:"size:8;default:low" json:"urgency"`
	CreatedAt time.Time `json:"created_at"`
}

func (Insight) TableName() string { return "insights" }

// ResearchRun is the append-only audit record of one research pass.
type ResearchRun struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TopicID       uint64    `gorm:"index;not null" json:"rabbit_hole_id"`
	Queries       string    `gorm:"type:text" json:"queries"`   // JSON array of query strings
	Synthesis     string    `gorm:"type:text" json:"synthesis"` // raw synthesis JSON
	SearchResults string    `gorm:"type:text" json:"search_results"`
	CreatedAt     time.Time `json:"created_at"`
}

func (ResearchRun) TableName() string { return "research_runs" }

// DailyPlan holds one plan per (user, calendar date); regenerating on the
// same date overwrites the text.
type DailyPlan struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:36;index:uniq_plan_user_date,unique,priority:1" json:"-"`
	PlanDate  string    `gorm:"size:10;index:uniq_plan_user_date,unique,priority:2" json:"plan_date"`
	PlanText  string    `gorm:"type:text;not null" json:"plan_text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DailyPlan) TableName() string { return "daily_plans" }
