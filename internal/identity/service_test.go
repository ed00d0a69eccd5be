package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/identity"
)

type fakeResolver struct {
	profiles map[string]domain.Profile
	err      error
	calls    int
}

func (r *fakeResolver) Resolve(_ context.Context, userID string) (domain.Profile, error) {
	r.calls++
	if r.err != nil {
		return domain.Profile{}, r.err
	}
	return r.profiles[userID], nil
}

func makeService(t *testing.T, r identity.Resolver) (*identity.Service, *miniredis.Miniredis) {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })

	return identity.NewService(identity.Config{
		Redis:     rc,
		Prefix:    "test",
		Resolver:  r,
		Retention: time.Hour,
	}), rs
}

func TestService_Profile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("resolves once and serves from cache after", func(t *testing.T) {
		r := &fakeResolver{profiles: map[string]domain.Profile{
			"u1": {ID: "u1", Name: "alex", RealName: "Alex Trebek"},
		}}
		svc, _ := makeService(t, r)

		for i := 0; i < 3; i++ {
			p, err := svc.Profile(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "alex", p.Name)
			require.Equal(t, "Alex Trebek", p.RealName)
		}
		require.Equal(t, 1, r.calls)
	})

	t.Run("missing real name falls back to display name", func(t *testing.T) {
		r := &fakeResolver{profiles: map[string]domain.Profile{
			"bot": {ID: "bot", Name: "quizbot"},
		}}
		svc, _ := makeService(t, r)

		p, err := svc.Profile(ctx, "bot")
		require.NoError(t, err)
		require.Equal(t, "quizbot", p.RealName)
	})

	t.Run("resolver failure degrades to the bare id", func(t *testing.T) {
		r := &fakeResolver{err: errors.New("platform down")}
		svc, _ := makeService(t, r)

		p, err := svc.Profile(ctx, "u9")
		require.NoError(t, err)
		require.Equal(t, domain.Profile{ID: "u9", Name: "u9", RealName: "u9"}, p)
	})

	t.Run("cache entries expire", func(t *testing.T) {
		r := &fakeResolver{profiles: map[string]domain.Profile{
			"u1": {ID: "u1", Name: "alex", RealName: "Alex Trebek"},
		}}
		svc, rs := makeService(t, r)

		_, err := svc.Profile(ctx, "u1")
		require.NoError(t, err)

		rs.FastForward(2 * time.Hour)

		_, err = svc.Profile(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, 2, r.calls)
	})
}

func TestService_Moderators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("nobody is a moderator by default", func(t *testing.T) {
		svc, _ := makeService(t, nil)

		ok, err := svc.IsModerator(ctx, "u1", false)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("plain moderators pass only the plain check", func(t *testing.T) {
		svc, _ := makeService(t, nil)
		require.NoError(t, svc.MakeModerator(ctx, "u1", false))

		ok, err := svc.IsModerator(ctx, "u1", false)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = svc.IsModerator(ctx, "u1", true)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("global moderators pass every check", func(t *testing.T) {
		svc, _ := makeService(t, nil)
		require.NoError(t, svc.MakeModerator(ctx, "u1", true))

		for _, global := range []bool{false, true} {
			ok, err := svc.IsModerator(ctx, "u1", global)
			require.NoError(t, err)
			require.True(t, ok)
		}
	})
}
