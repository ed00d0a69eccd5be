// Package game owns the session lifecycle: building clue pools, dealing
// clues, and tearing a round down. All state lives in redis; handlers keep
// nothing in memory, so every operation is safe to run from any process.
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizparty/internal/catalog"
	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
	"github.com/victornm/quizparty/internal/event"
	"github.com/victornm/quizparty/internal/grading"
	"github.com/victornm/quizparty/internal/telemetry"
)

const (
	defaultCategoryCount  = 6
	defaultCluesPerColumn = 5
	defaultRandomPool     = 30
	defaultAnswerWindow   = 30 * time.Second

	// Extra slack on the expiry guard key so the timer always finds it
	// when it fires on time.
	guardSlack = 15 * time.Second

	// createClaimTTL frees the channel if a create's holder dies before
	// releasing its claim.
	createClaimTTL = time.Minute
)

type Config struct {
	Redis        redis.UniversalClient
	Prefix       string
	Catalog      catalog.Source
	EventBus     *event.Bus
	AnswerWindow time.Duration

	CategoryCount  int
	CluesPerColumn int
	RandomPoolSize int

	// DailyDoubles is how many daily doubles to plant per board when the
	// source marks none itself. Zero means one; negative disables
	// planting.
	DailyDoubles int

	// AfterFunc schedules the one-shot expiry check for a dealt clue.
	// Tests inject their own to fire it by hand.
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	src    catalog.Source
	eb     *event.Bus

	answerWindow   time.Duration
	categoryCount  int
	cluesPerColumn int
	randomPool     int
	dailyDoubles   int

	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewService(c Config) *Service {
	s := &Service{
		redis:          c.Redis,
		prefix:         c.Prefix,
		src:            c.Catalog,
		eb:             c.EventBus,
		answerWindow:   c.AnswerWindow,
		categoryCount:  c.CategoryCount,
		cluesPerColumn: c.CluesPerColumn,
		randomPool:     c.RandomPoolSize,
		dailyDoubles:   c.DailyDoubles,
		afterFunc:      c.AfterFunc,
	}

	if s.answerWindow <= 0 {
		s.answerWindow = defaultAnswerWindow
	}
	if s.categoryCount <= 0 {
		s.categoryCount = defaultCategoryCount
	}
	if s.cluesPerColumn <= 0 {
		s.cluesPerColumn = defaultCluesPerColumn
	}
	if s.randomPool <= 0 {
		s.randomPool = defaultRandomPool
	}
	if s.dailyDoubles == 0 {
		s.dailyDoubles = 1
	}
	if s.afterFunc == nil {
		s.afterFunc = time.AfterFunc
	}

	return s
}

// AnswerWindow is how long players get to answer a dealt clue.
func (s *Service) AnswerWindow() time.Duration { return s.answerWindow }

func (s *Service) channelKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s:game", s.prefix, channel)
}

func (s *Service) createKey(channel string) string {
	return fmt.Sprintf("%s:channel:%s:creating", s.prefix, channel)
}

func (s *Service) poolKey(sid string) string {
	return fmt.Sprintf("%s:game:%s:clues", s.prefix, sid)
}

func (s *Service) clueKey(sid, clueID string) string {
	return fmt.Sprintf("%s:game:%s:clue:%s", s.prefix, sid, clueID)
}

func (s *Service) currentKey(sid string) string {
	return fmt.Sprintf("%s:game:%s:current", s.prefix, sid)
}

func (s *Service) guardKey(sid, clueID string) string {
	return fmt.Sprintf("%s:game:%s:unanswered:%s", s.prefix, sid, clueID)
}

// SessionID resolves the channel's session pointer; empty when the channel
// has never had a game or the last one was cancelled.
func (s *Service) SessionID(ctx context.Context, channel string) (string, error) {
	sid, err := s.redis.Get(ctx, s.channelKey(channel)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Unavailable(err)
	}
	return sid, nil
}

// Create starts a new session for the channel. A SETNX claim on the
// channel admits exactly one creation at a time: the loser of a
// concurrent race fails with AlreadyExists before writing a single key.
// Create also fails with AlreadyExists while the previous session still
// has undealt clues or a live current clue; otherwise it wipes the stale
// session's keys, pulls and cleans a fresh pool, and swings the channel
// pointer to the new session. The returned titles are empty in random
// mode.
func (s *Service) Create(ctx context.Context, channel string, mode domain.GameMode) (*domain.Session, []string, error) {
	claimed, err := s.redis.SetNX(ctx, s.createKey(channel), "", createClaimTTL).Result()
	if err != nil {
		return nil, nil, errors.Unavailable(err)
	}
	if !claimed {
		return nil, nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("game already being set up in channel %s", channel))
	}
	defer func() {
		if err := s.redis.Del(context.WithoutCancel(ctx), s.createKey(channel)).Err(); err != nil {
			slog.ErrorContext(ctx, "game: release create claim failed",
				"channel", channel, "error", err)
		}
	}()

	prev, err := s.SessionID(ctx, channel)
	if err != nil {
		return nil, nil, err
	}

	if prev != "" {
		inProgress, err := s.inProgress(ctx, prev)
		if err != nil {
			return nil, nil, err
		}
		if inProgress {
			return nil, nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("game already in progress in channel %s", channel))
		}
		if err := s.cleanupSession(ctx, channel, prev); err != nil {
			return nil, nil, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, nil, errors.Internal(fmt.Errorf("generate session id: %w", err))
	}

	ss := &domain.Session{
		SessionID: id.String(),
		Channel:   channel,
		CreatedAt: time.Now(),
	}

	var (
		clues  []domain.Clue
		titles []string
	)
	switch mode {
	case domain.ModeRandom:
		clues, err = s.pullRandom(ctx)
	default:
		clues, titles, err = s.pullCategories(ctx)
	}
	if err != nil {
		return nil, nil, err
	}

	if s.dailyDoubles > 0 {
		plantDailyDoubles(clues, s.dailyDoubles)
	}

	if err := s.storePool(ctx, channel, ss.SessionID, clues); err != nil {
		return nil, nil, err
	}

	telemetry.SessionsStarted.Inc()
	slog.InfoContext(ctx, "game: new session",
		"channel", channel, "session", ss.SessionID, "clues", len(clues))

	return ss, titles, nil
}

// inProgress reports whether the session still holds undealt clues or a
// current clue.
func (s *Service) inProgress(ctx context.Context, sid string) (bool, error) {
	remaining, err := s.redis.SCard(ctx, s.poolKey(sid)).Result()
	if err != nil {
		return false, errors.Unavailable(err)
	}
	if remaining > 0 {
		return true, nil
	}

	live, err := s.redis.Exists(ctx, s.currentKey(sid)).Result()
	if err != nil {
		return false, errors.Unavailable(err)
	}
	return live > 0, nil
}

func (s *Service) pullCategories(ctx context.Context) ([]domain.Clue, []string, error) {
	ids, err := s.src.ListCategoryIDs(ctx, s.cluesPerColumn)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no categories with at least %d clues", s.cluesPerColumn))
	}

	// Fetch twice as many candidates as needed; some categories collapse
	// to nothing once degenerate clues are filtered.
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	candidates := ids
	if max := 2 * s.categoryCount; len(candidates) > max {
		candidates = candidates[:max]
	}

	fetched := make([][]domain.RawClue, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range candidates {
		i, id := i, id
		g.Go(func() error {
			raws, err := s.src.FetchByCategory(gctx, id)
			if err != nil {
				return err
			}
			fetched[i] = raws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		pool   []domain.Clue
		titles []string
	)
	for _, raws := range fetched {
		column := selectColumn(raws, s.cluesPerColumn)
		if len(column) == 0 {
			continue
		}

		pool = append(pool, column...)
		titles = append(titles, column[0].Category)
		if len(titles) >= s.categoryCount {
			break
		}
	}

	return pool, titles, nil
}

// selectColumn sorts a category's clues by air date, picks a random aligned
// window of size n (clues that aired together), and cleans it.
func selectColumn(raws []domain.RawClue, n int) []domain.Clue {
	sort.Slice(raws, func(i, j int) bool { return raws[i].AirDate < raws[j].AirDate })

	if windows := len(raws) / n; windows > 1 {
		raws = raws[rand.Intn(windows)*n:]
	}
	if len(raws) > n {
		raws = raws[:n]
	}

	var clues []domain.Clue
	for _, raw := range raws {
		if clue := grading.CleanClue(raw); clue != nil {
			clues = append(clues, *clue)
		}
	}
	return clues
}

func (s *Service) pullRandom(ctx context.Context) ([]domain.Clue, error) {
	seen := make(map[string]bool, s.randomPool)
	var clues []domain.Clue
	for i := 0; i < 2*s.randomPool && len(clues) < s.randomPool; i++ {
		raw, err := s.src.FetchRandom(ctx)
		if err != nil {
			return nil, err
		}
		clue := grading.CleanClue(raw)
		if clue == nil || seen[clue.ID] {
			continue
		}
		seen[clue.ID] = true
		clues = append(clues, *clue)
	}
	return clues, nil
}

// plantDailyDoubles flags n random clues unless the source already marked
// some itself.
func plantDailyDoubles(clues []domain.Clue, n int) {
	for _, c := range clues {
		if c.DailyDouble {
			return
		}
	}

	for _, i := range rand.Perm(len(clues)) {
		if n == 0 {
			return
		}
		clues[i].DailyDouble = true
		n--
	}
}

func (s *Service) storePool(ctx context.Context, channel, sid string, clues []domain.Clue) error {
	pipe := s.redis.Pipeline()
	for _, clue := range clues {
		b, err := json.Marshal(clue)
		if err != nil {
			return errors.Internal(fmt.Errorf("marshal clue %s: %w", clue.ID, err))
		}
		pipe.Set(ctx, s.clueKey(sid, clue.ID), b, 0)
		pipe.SAdd(ctx, s.poolKey(sid), clue.ID)
	}
	// The pointer swing lands last so a half-written pool is never the
	// channel's session.
	pipe.Set(ctx, s.channelKey(channel), sid, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}

// DealNext picks one clue at random from the pool, removes it, publishes
// it as the current clue, and arms the expiry guard for it. A nil clue
// with nil error means the pool is empty and the round is over. The
// pipeline is ordered so interleaved readers see the clue either still in
// the pool with no current, or current and gone from the pool, never both.
func (s *Service) DealNext(ctx context.Context, channel string) (*domain.Clue, error) {
	sid, err := s.SessionID(ctx, channel)
	if err != nil {
		return nil, err
	}
	if sid == "" {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no game in channel %s", channel))
	}

	clueID, err := s.redis.SRandMember(ctx, s.poolKey(sid)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Unavailable(err)
	}

	raw, err := s.redis.Get(ctx, s.clueKey(sid, clueID)).Bytes()
	if err != nil {
		return nil, errors.Unavailable(err)
	}

	var clue domain.Clue
	if err := json.Unmarshal(raw, &clue); err != nil {
		return nil, errors.Internal(fmt.Errorf("unmarshal clue %s: %w", clueID, err))
	}

	pipe := s.redis.Pipeline()
	pipe.SRem(ctx, s.poolKey(sid), clueID)
	pipe.Set(ctx, s.currentKey(sid), raw, 0)
	pipe.SetEx(ctx, s.guardKey(sid, clueID), "", s.answerWindow+guardSlack)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Unavailable(err)
	}

	s.afterFunc(s.answerWindow, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.CheckExpired(ctx, channel, clue.ID); err != nil {
			slog.ErrorContext(ctx, "game: expiry check failed",
				"channel", channel, "clue", clue.ID, "error", err)
		}
	})

	telemetry.CluesDealt.Inc()
	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventClueDealt{Channel: channel, Clue: clue})
	}

	return &clue, nil
}

// CheckExpired is the deferred end-of-window task for one dealt clue. It
// re-reads the current clue and only acts if the clue it was armed for is
// still live; anything else means somebody answered it or the round was
// torn down, and the task is a silent no-op.
func (s *Service) CheckExpired(ctx context.Context, channel, clueID string) error {
	clue, err := s.CurrentClue(ctx, channel)
	if err != nil || clue == nil || clue.ID != clueID {
		return err
	}

	if err := s.MarkAnswered(ctx, channel); err != nil {
		return err
	}

	telemetry.CluesExpired.Inc()
	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventClueExpired{Channel: channel, Clue: *clue})
	}
	return nil
}

// CurrentClue returns the live clue, or nil when none is active.
func (s *Service) CurrentClue(ctx context.Context, channel string) (*domain.Clue, error) {
	sid, err := s.SessionID(ctx, channel)
	if err != nil || sid == "" {
		return nil, err
	}

	raw, err := s.redis.Get(ctx, s.currentKey(sid)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Unavailable(err)
	}

	var clue domain.Clue
	if err := json.Unmarshal(raw, &clue); err != nil {
		return nil, errors.Internal(err)
	}
	return &clue, nil
}

// MarkAnswered clears the current-clue pointer. Safe to call when nothing
// is live.
func (s *Service) MarkAnswered(ctx context.Context, channel string) error {
	sid, err := s.SessionID(ctx, channel)
	if err != nil || sid == "" {
		return err
	}

	if err := s.redis.Del(ctx, s.currentKey(sid)).Err(); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}

// Skip resolves the current clue without a winner and returns it so the
// caller can reveal the answer. Moderator-gating is the caller's job.
func (s *Service) Skip(ctx context.Context, channel string) (*domain.Clue, error) {
	clue, err := s.CurrentClue(ctx, channel)
	if err != nil {
		return nil, err
	}
	if clue == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no clue to skip in channel %s", channel))
	}

	return clue, s.MarkAnswered(ctx, channel)
}

// RemainingCount is the number of undealt clues in the channel's session.
func (s *Service) RemainingCount(ctx context.Context, channel string) (int64, error) {
	sid, err := s.SessionID(ctx, channel)
	if err != nil || sid == "" {
		return 0, err
	}

	n, err := s.redis.SCard(ctx, s.poolKey(sid)).Result()
	if err != nil {
		return 0, errors.Unavailable(err)
	}
	return n, nil
}

// Cleanup tears the channel's session down: every game-scoped key goes,
// along with the channel pointer. Attempt and response records are left to
// age out on their own TTLs so moderators can still review them.
func (s *Service) Cleanup(ctx context.Context, channel string) error {
	sid, err := s.SessionID(ctx, channel)
	if err != nil || sid == "" {
		return err
	}

	if err := s.cleanupSession(ctx, channel, sid); err != nil {
		return err
	}

	if err := s.redis.Del(ctx, s.channelKey(channel)).Err(); err != nil {
		return errors.Unavailable(err)
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionEnded{Channel: channel, SessionID: sid})
	}
	return nil
}

func (s *Service) cleanupSession(ctx context.Context, channel, sid string) error {
	pattern := fmt.Sprintf("%s:game:%s:*", s.prefix, sid)

	var batch []string
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return errors.Unavailable(err)
	}

	if len(batch) > 0 {
		if err := s.redis.Del(ctx, batch...).Err(); err != nil {
			return errors.Unavailable(err)
		}
	}

	slog.InfoContext(ctx, "game: session cleaned up",
		"channel", channel, "session", sid, "keys", len(batch))
	return nil
}
