// Package attempt is the answer path: one guess per user per clue,
// enforced by a conditional claim on the store, graded and scored in a
// single pass.
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/bid"
	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
	"github.com/victornm/quizparty/internal/game"
	"github.com/victornm/quizparty/internal/grading"
	"github.com/victornm/quizparty/internal/score"
	"github.com/victornm/quizparty/internal/telemetry"
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	Game   *game.Service
	Scores *score.Service
	Bids   *bid.Service
	Grader *grading.Grader
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	game   *game.Service
	scores *score.Service
	bids   *bid.Service
	grader *grading.Grader
}

func NewService(c Config) *Service {
	return &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		game:   c.Game,
		scores: c.Scores,
		bids:   c.Bids,
		grader: c.Grader,
	}
}

func (s *Service) claimKey(sid, user, clueID string) string {
	return fmt.Sprintf("%s:attempt:%s:%s:%s", s.prefix, sid, user, clueID)
}

// Attempt grades one guess against the channel's current clue. The
// idempotency claim is a set-if-absent with TTL: losing it yields a
// duplicate verdict and no side effects. Duplicate and clue-gone outcomes
// are verdicts, never errors.
func (s *Service) Attempt(ctx context.Context, channel, user, guess, ts string) (domain.Verdict, error) {
	var v domain.Verdict

	clue, err := s.game.CurrentClue(ctx, channel)
	if err != nil {
		return v, err
	}
	if clue == nil {
		v.ClueGone = true
		telemetry.Attempts.WithLabelValues("clue_gone").Inc()
		return v, nil
	}

	sid, err := s.game.SessionID(ctx, channel)
	if err != nil {
		return v, err
	}

	claimTTL := 2 * s.game.AnswerWindow()
	claimed, err := s.redis.SetNX(ctx, s.claimKey(sid, user, clue.ID), "", claimTTL).Result()
	if err != nil {
		return v, errors.Unavailable(err)
	}
	if !claimed {
		v.Duplicate = true
		telemetry.Attempts.WithLabelValues("duplicate").Inc()
		return v, nil
	}

	res := s.grader.Grade(*clue, guess)
	v.Correct, v.Exact = res.Correct, res.Exact

	if clue.DailyDouble {
		holder, err := s.bids.IsGrantHolder(ctx, sid, clue.ID, user)
		if err != nil {
			return v, err
		}
		// Answering somebody else's daily double costs you no matter how
		// right you are.
		if !holder {
			v.Correct, v.Exact, v.BadSport = false, false, true
		}
	}

	if (res.Close && !res.Exact) || clue.DailyDouble {
		v.RevealedAnswer = clue.Answer
	}

	value := clue.Value
	if clue.DailyDouble {
		if amount, ok, err := s.bids.Amount(ctx, sid, clue.ID, user); err != nil {
			return v, err
		} else if ok {
			value = amount
		}
	}

	v.RoundScore, err = s.scores.Adjust(ctx, channel, sid, user, value, v.Correct)
	if err != nil {
		return v, err
	}
	v.ScoreDelta = value
	if !v.Correct {
		v.ScoreDelta = -value
	}

	if v.Correct || (clue.DailyDouble && !v.BadSport) {
		if err := s.game.MarkAnswered(ctx, channel); err != nil {
			return v, err
		}
	}

	if err := s.scores.RecordResponse(ctx, sid, user, ts, clue.ID, value, v.Correct); err != nil {
		return v, err
	}

	verdict := "incorrect"
	switch {
	case v.BadSport:
		verdict = "bad_sport"
	case v.Correct:
		verdict = "correct"
	}
	telemetry.Attempts.WithLabelValues(verdict).Inc()

	slog.InfoContext(ctx, "attempt: graded",
		"channel", channel, "user", user, "clue", clue.ID,
		"correct", v.Correct, "exact", v.Exact, "delta", v.ScoreDelta)

	return v, nil
}

// ClaimTTL reports how long an attempt claim holds, mostly for tests.
func (s *Service) ClaimTTL() time.Duration {
	return 2 * s.game.AnswerWindow()
}
