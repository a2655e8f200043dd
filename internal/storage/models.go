package storage

import (
	"time"

	"gorm.io/datatypes"
)

// Article is one stored news item. OriginalLink is the natural key: at most
// one row exists per canonical link, enforced by the unique index. Repeat
// sightings flip IsDuplicate on the existing row instead of inserting.
type Article struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Title        string `gorm:"size:512" json:"title"`
	OriginalLink string `gorm:"size:1024;uniqueIndex" json:"originalLink"`
	Link         string `gorm:"size:1024" json:"link"`
	Summary      string `gorm:"size:2000" json:"summary"`
	// source-formatted publish timestamp, stored untouched
	PubDate  string `gorm:"size:64" json:"pubDate"`
	Source   string `gorm:"size:16;index" json:"source"`
	Keyword  string `gorm:"size:128;index" json:"keyword"`
	Category string `gorm:"size:64" json:"category"`

	Extra datatypes.JSONMap `gorm:"type:jsonb" json:"extra"`

	IsDuplicate bool `gorm:"index" json:"isDuplicate"`
	IsProcessed bool `json:"isProcessed"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CollectionLog is the append-only audit trail: one row per orchestration
// attempt, successful or not. Never updated after insert.
type CollectionLog struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	RunID        string `gorm:"size:36;index" json:"runId"`
	Source       string `gorm:"size:32" json:"source"`
	Keyword      string `gorm:"size:128" json:"keyword"`
	Collected    int    `json:"collected"`
	Saved        int    `json:"saved"`
	Duplicates   int    `json:"duplicates"`
	Success      bool   `json:"success"`
	ErrorMessage string `gorm:"size:1024" json:"errorMessage"`
	ElapsedMS    int64  `json:"elapsedMs"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// TrackedKeyword is a watchlist entry the scheduler collects periodically.
type TrackedKeyword struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Keyword  string `gorm:"size:128;uniqueIndex" json:"keyword"`
	Category string `gorm:"size:64" json:"category"`

	CreatedAt time.Time `json:"createdAt"`
}

// BatchStats is what a transactional batch insert reports back.
// Saved + Duplicates == Total holds on success; a rolled-back batch
// reports zero saved.
type BatchStats struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
}

// Counts is the aggregate view used by the stats surface.
type Counts struct {
	TotalArticles  int64           `json:"totalArticles"`
	Duplicates     int64           `json:"duplicates"`
	UniqueArticles int64           `json:"uniqueArticles"`
	RecentAttempts []CollectionLog `json:"recentAttempts"`
}
