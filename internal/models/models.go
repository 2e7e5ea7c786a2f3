package models

import "time"

// DateLayout is the calendar-day format stored in users.last_generation_date.
const DateLayout = "2006-01-02"

type UserAccount struct {
	UserID             string
	TotalGenerations   int
	DailyGenerations   int
	LastGenerationDate string
	PreferredModel     string
	PreferredStyle     string
	PreferredQuality   string
	IsPremium          bool
	CreatedAt          time.Time
}

// Preferences is a partial update; nil fields are left unchanged.
type Preferences struct {
	Model   *string
	Style   *string
	Quality *string
}

func (p Preferences) Empty() bool {
	return p.Model == nil && p.Style == nil && p.Quality == nil
}

type GenerationRecord struct {
	ID             int64
	UserID         string
	Prompt         string
	Model          string
	Style          string
	Quality        string
	GenerationTime float64
	CreatedAt      time.Time
}

// Day formats t as a calendar-day key in t's location.
func Day(t time.Time) string {
	return t.Format(DateLayout)
}
