package domain

const (
	EventNameClueDealt     = "clue.dealt"
	EventNameClueExpired   = "clue.expired"
	EventNameScoreAdjusted = "score.adjusted"
	EventNameSessionEnded  = "session.ended"
)

type EventClueDealt struct {
	Channel string
	Clue    Clue
}

func (EventClueDealt) Name() string { return EventNameClueDealt }

// EventClueExpired fires when the answer window for a dealt clue elapses
// with nobody solving it.
type EventClueExpired struct {
	Channel string
	Clue    Clue
}

func (EventClueExpired) Name() string { return EventNameClueExpired }

type EventScoreAdjusted struct {
	Channel    string
	SessionID  string
	UserID     string
	Delta      int64
	RoundScore int64
}

func (EventScoreAdjusted) Name() string { return EventNameScoreAdjusted }

type EventSessionEnded struct {
	Channel   string
	SessionID string
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }
