// Package identity caches chat-platform profiles and keeps the moderator
// rolls. Nothing in the scoring path blocks on it.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/errors"
)

const defaultRetention = 7 * 24 * time.Hour

// Resolver looks a user up on the chat platform.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (domain.Profile, error)
}

type Config struct {
	Redis    redis.UniversalClient
	Prefix   string
	Resolver Resolver
	// Retention bounds how long a cached profile lives.
	Retention time.Duration
}

type Service struct {
	redis     redis.UniversalClient
	prefix    string
	resolver  Resolver
	retention time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		redis:     c.Redis,
		prefix:    c.Prefix,
		resolver:  c.Resolver,
		retention: c.Retention,
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	return s
}

func (s *Service) profileKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

func (s *Service) modKey(global bool) string {
	if global {
		return s.prefix + ":global_moderators"
	}
	return s.prefix + ":moderators"
}

// Profile returns the cached profile, resolving and caching it on a miss.
// When the resolver fails, the bare user id is returned rather than an
// error so callers can still render something.
func (s *Service) Profile(ctx context.Context, userID string) (domain.Profile, error) {
	m, err := s.redis.HGetAll(ctx, s.profileKey(userID)).Result()
	if err != nil {
		return domain.Profile{}, errors.Unavailable(err)
	}
	if len(m) > 0 {
		return domain.Profile{ID: m["id"], Name: m["name"], RealName: m["real"]}, nil
	}

	if s.resolver == nil {
		return domain.Profile{ID: userID, Name: userID, RealName: userID}, nil
	}

	p, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return domain.Profile{ID: userID, Name: userID, RealName: userID}, nil
	}
	if p.RealName == "" {
		// Bots and guests come back without real names.
		p.RealName = p.Name
	}

	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, s.profileKey(userID), "id", p.ID, "name", p.Name, "real", p.RealName)
	pipe.Expire(ctx, s.profileKey(userID), s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return p, errors.Unavailable(err)
	}

	return p, nil
}

// IsModerator reports moderator standing. Global moderators pass every
// check; with global set, only the global roll counts.
func (s *Service) IsModerator(ctx context.Context, userID string, global bool) (bool, error) {
	isGlobal, err := s.redis.SIsMember(ctx, s.modKey(true), userID).Result()
	if err != nil {
		return false, errors.Unavailable(err)
	}
	if isGlobal || global {
		return isGlobal, nil
	}

	ok, err := s.redis.SIsMember(ctx, s.modKey(false), userID).Result()
	if err != nil {
		return false, errors.Unavailable(err)
	}
	return ok, nil
}

// MakeModerator adds the user to the moderator roll, and to the global
// roll as well when global is set.
func (s *Service) MakeModerator(ctx context.Context, userID string, global bool) error {
	pipe := s.redis.Pipeline()
	if global {
		pipe.SAdd(ctx, s.modKey(true), userID)
	}
	pipe.SAdd(ctx, s.modKey(false), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}
