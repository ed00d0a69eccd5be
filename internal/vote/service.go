// Package vote runs the timed category-change tally. A vote only counts
// while its key is alive; once the expiry lapses, casts are no-ops.
package vote

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/errors"
)

const defaultWindow = 2 * time.Minute

// castScript increments the tally only if the vote key still exists, in
// one atomic step, so a tally can never be resurrected after expiry by an
// EXISTS/INCRBY race.
var castScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return redis.call('INCRBY', KEYS[1], ARGV[1])
end
return false
`)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	// Window is how long a vote stays open.
	Window time.Duration
}

type Service struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		window: c.Window,
	}
	if s.window <= 0 {
		s.window = defaultWindow
	}
	return s
}

func (s *Service) key(voteID string) string {
	return fmt.Sprintf("%s:vote:%s", s.prefix, voteID)
}

// Start opens a vote with a zero tally and a fixed expiry.
func (s *Service) Start(ctx context.Context, voteID string) error {
	if err := s.redis.Set(ctx, s.key(voteID), 0, s.window).Err(); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}

// Cast adds delta (±1) to the tally and returns the new value. The second
// return is false when the vote has expired or never existed; callers must
// not act on such a cast.
func (s *Service) Cast(ctx context.Context, voteID string, delta int64) (int64, bool, error) {
	res, err := castScript.Run(ctx, s.redis, []string{s.key(voteID)}, delta).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Unavailable(err)
	}

	tally, ok := res.(int64)
	if !ok {
		return 0, false, errors.Internal(fmt.Errorf("vote: unexpected script reply %T", res))
	}
	return tally, true, nil
}
