package model

import "time"

// Engagement holds the analytics counters fetched for one tracking code.
// Cached across runs keyed by ticket; FetchedAt records when the counters
// were retrieved.
type Engagement struct {
	Ticket         string
	FirstVisit     int
	PageView       int
	ScreenView     int
	SessionStart   int
	UserEngagement int
	EngagementSecs float64
	FetchedAt      time.Time
}
