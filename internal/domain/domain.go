package domain

import "time"

// Clue is a single question/answer unit with a point value. A clue is
// immutable once it has been cleaned and stored into a session's pool.
type Clue struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Alternate   string `json:"alternate,omitempty"`
	Value       int64  `json:"value"`
	DailyDouble bool   `json:"daily_double"`
	AirDate     string `json:"air_date,omitempty"`
}

// Session is one in-progress trivia round scoped to a channel.
type Session struct {
	SessionID string
	Channel   string
	CreatedAt time.Time
}

// GameMode selects how the clue pool for a new session is built.
type GameMode string

const (
	// ModeCategories builds the pool from a handful of random categories,
	// five clues each.
	ModeCategories GameMode = "categories"
	// ModeRandom builds the pool from individually random clues.
	ModeRandom GameMode = "random"
)

// Verdict is the outcome of a single answer attempt.
type Verdict struct {
	// Duplicate means the user already used their one guess for this clue.
	Duplicate bool
	// ClueGone means there was no current clue when the attempt arrived.
	ClueGone bool
	Correct  bool
	// Exact is set when the guess matched the answer outright rather than
	// by fuzzy similarity.
	Exact bool
	// BadSport marks a daily-double answer from a user who does not hold
	// the answering grant for it.
	BadSport bool
	// RevealedAnswer carries the canonical answer text when the verdict
	// warrants showing it (close-but-inexact matches and daily doubles).
	RevealedAnswer string
	ScoreDelta     int64
	RoundScore     int64
}

// RawClue is a clue record as the catalog supplies it, before cleaning.
type RawClue struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	Value         int64  `json:"value"`
	AirDate       string `json:"airdate"`
	CategoryID    string `json:"category_id"`
	CategoryTitle string `json:"category_title"`
	DailyDouble   bool   `json:"daily_double"`
	// Invalid marks records voted unusable upstream.
	Invalid bool `json:"invalid"`
}

// ScoreEntry is one row of a scoreboard or leaderboard.
type ScoreEntry struct {
	UserID string
	Score  int64
}

// Profile is a cached chat-platform identity.
type Profile struct {
	ID       string
	Name     string
	RealName string
}
