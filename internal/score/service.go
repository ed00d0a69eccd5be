// Package score keeps the round and cumulative score books. Round scores
// live and die with a session; cumulative scores are bucketed per calendar
// month for windowed leaderboards.
package score

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
	"github.com/victornm/quizparty/internal/event"
)

const defaultReviewWindow = 10 * time.Minute

type Config struct {
	Redis    redis.UniversalClient
	Prefix   string
	EventBus *event.Bus

	// ReviewWindow bounds how long a recorded response stays reversible.
	ReviewWindow time.Duration

	// Now is injectable for leaderboard window tests.
	Now func() time.Time
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	eb     *event.Bus

	reviewWindow time.Duration
	now          func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		redis:        c.Redis,
		prefix:       c.Prefix,
		eb:           c.EventBus,
		reviewWindow: c.ReviewWindow,
		now:          c.Now,
	}

	if s.reviewWindow <= 0 {
		s.reviewWindow = defaultReviewWindow
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s
}

func (s *Service) playersKey(sid string) string {
	return fmt.Sprintf("%s:game:%s:players", s.prefix, sid)
}

func (s *Service) roundKey(sid, user string) string {
	return fmt.Sprintf("%s:game:%s:score:%s", s.prefix, sid, user)
}

func (s *Service) cumulativeKey(channel, month, user string) string {
	return fmt.Sprintf("%s:score:%s:%s:%s", s.prefix, channel, month, user)
}

func (s *Service) responseKey(sid, user, ts string) string {
	return fmt.Sprintf("%s:response:%s:%s:%s", s.prefix, sid, user, ts)
}

func monthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Adjust registers the user as a player of the session and applies
// ±amount to both the round counter and this month's cumulative counter.
// It returns the new round total. Increments are atomic on the store, so
// any interleaving of Adjust calls converges to the same totals.
func (s *Service) Adjust(ctx context.Context, channel, sid, user string, amount int64, positive bool) (int64, error) {
	if !positive {
		amount = -amount
	}

	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, s.playersKey(sid), user)
	round := pipe.IncrBy(ctx, s.roundKey(sid, user), amount)
	pipe.IncrBy(ctx, s.cumulativeKey(channel, monthOf(s.now()), user), amount)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Unavailable(err)
	}

	total := round.Val()
	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventScoreAdjusted{
			Channel:    channel,
			SessionID:  sid,
			UserID:     user,
			Delta:      amount,
			RoundScore: total,
		})
	}

	return total, nil
}

// UserRoundScore is a user's score in the session; zero when they have
// not played.
func (s *Service) UserRoundScore(ctx context.Context, sid, user string) (int64, error) {
	v, err := s.redis.Get(ctx, s.roundKey(sid, user)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Unavailable(err)
	}
	return v, nil
}

// RoundBoard lists every player of the session with their round score,
// highest first. Ties order by ascending user id.
func (s *Service) RoundBoard(ctx context.Context, sid string) ([]domain.ScoreEntry, error) {
	users, err := s.redis.SMembers(ctx, s.playersKey(sid)).Result()
	if err != nil {
		return nil, errors.Unavailable(err)
	}

	board := make([]domain.ScoreEntry, 0, len(users))
	for _, u := range users {
		sc, err := s.UserRoundScore(ctx, sid, u)
		if err != nil {
			return nil, err
		}
		board = append(board, domain.ScoreEntry{UserID: u, Score: sc})
	}

	sortBoard(board, false)
	return board, nil
}

// Leaderboard aggregates cumulative scores for the channel, highest first
// (lowest first for bottom), truncated to count. With sinceMonthStart it
// reads only the current month's bucket; otherwise it sums all buckets.
// Ties order by ascending user id.
func (s *Service) Leaderboard(ctx context.Context, channel string, count int, bottom, sinceMonthStart bool) ([]domain.ScoreEntry, error) {
	totals := make(map[string]int64)

	var pattern, trim string
	if sinceMonthStart {
		month := monthOf(s.now())
		pattern = fmt.Sprintf("%s:score:%s:%s:*", s.prefix, channel, month)
		trim = fmt.Sprintf("%s:score:%s:%s:", s.prefix, channel, month)
	} else {
		pattern = fmt.Sprintf("%s:score:%s:*", s.prefix, channel)
		trim = fmt.Sprintf("%s:score:%s:", s.prefix, channel)
	}

	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		user := strings.TrimPrefix(key, trim)
		if !sinceMonthStart {
			// Remainder is "{month}:{user}".
			parts := strings.SplitN(user, ":", 2)
			if len(parts) != 2 {
				continue
			}
			user = parts[1]
		}

		v, err := s.redis.Get(ctx, key).Int64()
		if err != nil && err != redis.Nil {
			return nil, errors.Unavailable(err)
		}
		totals[user] += v
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Unavailable(err)
	}

	board := make([]domain.ScoreEntry, 0, len(totals))
	for u, v := range totals {
		board = append(board, domain.ScoreEntry{UserID: u, Score: v})
	}

	sortBoard(board, bottom)
	if count > 0 && len(board) > count {
		board = board[:count]
	}
	return board, nil
}

func sortBoard(board []domain.ScoreEntry, ascending bool) {
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].Score != board[j].Score {
			if ascending {
				return board[i].Score < board[j].Score
			}
			return board[i].Score > board[j].Score
		}
		return board[i].UserID < board[j].UserID
	})
}

// RecordResponse stores a reversible record of a graded attempt for the
// moderator review window.
func (s *Service) RecordResponse(ctx context.Context, sid, user, ts, clueID string, value int64, correct bool) error {
	key := s.responseKey(sid, user, ts)

	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, key, "clue_id", clueID, "value", value, "correct", strconv.FormatBool(correct))
	pipe.Expire(ctx, key, s.reviewWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}

// ModeratorAdjust reverses one recorded response: a correcting delta of
// twice the recorded value, applied with the opposite sign, both cancels
// the original effect and applies the corrected one. The record is deleted
// before scoring and the DEL reply is the claim, so concurrent moderators
// reverse at most once. Returns the new round total.
func (s *Service) ModeratorAdjust(ctx context.Context, channel, sid, user, ts string) (int64, error) {
	key := s.responseKey(sid, user, ts)

	rec, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, errors.Unavailable(err)
	}
	if len(rec) == 0 {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no pending response: user=%s ts=%s", user, ts))
	}

	deleted, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return 0, errors.Unavailable(err)
	}
	if deleted == 0 {
		return 0, errors.New(errors.CodeNotFound,
			errors.WithMessagef("response already reversed: user=%s ts=%s", user, ts))
	}

	value, err := strconv.ParseInt(rec["value"], 10, 64)
	if err != nil {
		return 0, errors.Internal(fmt.Errorf("corrupt response record %s: %w", key, err))
	}
	wasCorrect := rec["correct"] == "true"

	// Correct answers get subtracted from, incorrect ones added to.
	return s.Adjust(ctx, channel, sid, user, 2*value, !wasCorrect)
}

// ModeratorAdjustBatch reverses every pending response recorded against
// one event timestamp and returns the users' new round totals.
func (s *Service) ModeratorAdjustBatch(ctx context.Context, channel, sid, ts string) (map[string]int64, error) {
	pattern := fmt.Sprintf("%s:response:%s:*:%s", s.prefix, sid, ts)
	trim := fmt.Sprintf("%s:response:%s:", s.prefix, sid)

	totals := make(map[string]int64)
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), trim)
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		user := parts[0]

		total, err := s.ModeratorAdjust(ctx, channel, sid, user, ts)
		if errors.IsCode(err, errors.CodeNotFound) {
			continue // lost the race to another moderator
		}
		if err != nil {
			return nil, err
		}
		totals[user] = total
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Unavailable(err)
	}

	return totals, nil
}
