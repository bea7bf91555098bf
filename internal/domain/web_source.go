package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebSource is a persisted web-search hit surfaced to a user during a chat
// turn or a policy search, kept so evidence reference ids stay resolvable
// after the turn.
type WebSource struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID string    `gorm:"column:session_id;type:text;not null;index" json:"session_id"`
	PolicyID  int64     `gorm:"column:policy_id;index" json:"policy_id,omitempty"`
	Query     string    `gorm:"column:query;type:text;not null" json:"query"`

	URL         string  `gorm:"column:url;type:text;not null" json:"url"`
	Title       string  `gorm:"column:title;type:text" json:"title,omitempty"`
	Snippet     string  `gorm:"column:snippet;type:text" json:"snippet,omitempty"`
	Score       float64 `gorm:"column:score" json:"score,omitempty"`
	FetchedDate string  `gorm:"column:fetched_date;type:text" json:"fetched_date,omitempty"`
	SourceType  string  `gorm:"column:source_type;type:text;not null" json:"source_type"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (WebSource) TableName() string { return "web_source" }
