// Package bid runs the daily-double sub-protocol: players place bids on
// the clue, one bidder is drawn and granted the exclusive time-boxed right
// to answer it.
package bid

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/errors"
	"github.com/victornm/quizparty/internal/game"
)

const (
	// MinBid and MaxBid bound a bid; out-of-range amounts are clamped,
	// not rejected.
	MinBid int64 = 100
	MaxBid int64 = 1000

	defaultBidWindow = 2 * time.Minute
)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	Game   *game.Service
	// BidWindow bounds how long bids and grants stay live.
	BidWindow time.Duration
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	game   *game.Service
	window time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		game:   c.Game,
		window: c.BidWindow,
	}
	if s.window <= 0 {
		s.window = defaultBidWindow
	}
	return s
}

func (s *Service) bidKey(sid, clueID, user string) string {
	return fmt.Sprintf("%s:game:%s:bid:%s:%s", s.prefix, sid, clueID, user)
}

func (s *Service) poolKey(sid, clueID string) string {
	return fmt.Sprintf("%s:game:%s:bidders:%s", s.prefix, sid, clueID)
}

func (s *Service) grantKey(sid, clueID string) string {
	return fmt.Sprintf("%s:game:%s:grant:%s", s.prefix, sid, clueID)
}

// Clamp forces an amount into the allowed bid range.
func Clamp(amount int64) int64 {
	if amount < MinBid {
		return MinBid
	}
	if amount > MaxBid {
		return MaxBid
	}
	return amount
}

// RecordBid stores the user's clamped bid and adds them to the clue's bid
// pool. The current clue is resolved first and all keys derive from it.
// Returns the stored amount, or ok=false if there is no live daily double
// to bid on.
func (s *Service) RecordBid(ctx context.Context, channel, user string, amount int64) (int64, bool, error) {
	clue, err := s.game.CurrentClue(ctx, channel)
	if err != nil {
		return 0, false, err
	}
	if clue == nil || !clue.DailyDouble {
		return 0, false, nil
	}

	sid, err := s.game.SessionID(ctx, channel)
	if err != nil {
		return 0, false, err
	}

	amount = Clamp(amount)

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, s.bidKey(sid, clue.ID, user), amount, s.window)
	pipe.SAdd(ctx, s.poolKey(sid, clue.ID), user)
	pipe.Expire(ctx, s.poolKey(sid, clue.ID), s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, errors.Unavailable(err)
	}

	return amount, true, nil
}

// PickBidder draws one user at random from the bid pool, grants them the
// exclusive right to answer the clue for the answer window, and clears the
// pool. An empty pool returns an empty user; the caller auto-resolves the
// clue with no winner.
func (s *Service) PickBidder(ctx context.Context, channel string) (string, int64, error) {
	clue, err := s.game.CurrentClue(ctx, channel)
	if err != nil {
		return "", 0, err
	}
	if clue == nil || !clue.DailyDouble {
		return "", 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no daily double awaiting bids in channel %s", channel))
	}

	sid, err := s.game.SessionID(ctx, channel)
	if err != nil {
		return "", 0, err
	}

	// SPOP is the atomic draw: concurrent picks cannot select the same
	// bidder twice.
	user, err := s.redis.SPop(ctx, s.poolKey(sid, clue.ID)).Result()
	if err == redis.Nil {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, errors.Unavailable(err)
	}

	grantWindow := s.game.AnswerWindow()

	pipe := s.redis.Pipeline()
	pipe.Set(ctx, s.grantKey(sid, clue.ID), user, grantWindow)
	pipe.Del(ctx, s.poolKey(sid, clue.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return "", 0, errors.Unavailable(err)
	}

	amount, _, err := s.Amount(ctx, sid, clue.ID, user)
	if err != nil {
		return "", 0, err
	}
	return user, amount, nil
}

// IsGrantHolder reports whether the user holds the answering grant for
// the clue.
func (s *Service) IsGrantHolder(ctx context.Context, sid, clueID, user string) (bool, error) {
	holder, err := s.redis.Get(ctx, s.grantKey(sid, clueID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.Unavailable(err)
	}
	return holder == user, nil
}

// Amount returns the user's stored bid for the clue, if any.
func (s *Service) Amount(ctx context.Context, sid, clueID, user string) (int64, bool, error) {
	v, err := s.redis.Get(ctx, s.bidKey(sid, clueID, user)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Unavailable(err)
	}
	return v, true, nil
}
