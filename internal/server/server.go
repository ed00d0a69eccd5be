package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizparty/internal/api"
	"github.com/victornm/quizparty/internal/attempt"
	"github.com/victornm/quizparty/internal/bid"
	"github.com/victornm/quizparty/internal/catalog"
	"github.com/victornm/quizparty/internal/event"
	"github.com/victornm/quizparty/internal/game"
	"github.com/victornm/quizparty/internal/grading"
	"github.com/victornm/quizparty/internal/identity"
	"github.com/victornm/quizparty/internal/score"
	"github.com/victornm/quizparty/internal/telemetry"
	"github.com/victornm/quizparty/internal/vote"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Game struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Catalog struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Catalog struct {
		BaseURL string
		// UsePostgres serves clues from the local catalog instead of the
		// upstream API.
		UsePostgres bool
	}

	Game struct {
		AnswerWindowSeconds int
		SimilarityThreshold float64
		CategoryCount       int
		CluesPerColumn      int
		RandomPoolSize      int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			game   redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		game     *game.Service
		attempts *attempt.Service
		scores   *score.Service
		votes    *vote.Service
		bids     *bid.Service
		identity *identity.Service
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if s.c.Catalog.UsePostgres {
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.game, err = connect(s.c.Redis.Game.Addrs, s.c.Redis.Game.Pass)
	if err != nil {
		return fmt.Errorf("game: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres.Catalog
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) catalogSource() catalog.Source {
	if s.c.Catalog.UsePostgres {
		return catalog.NewPGSource(s.infra.postgres)
	}
	return catalog.NewHTTPSource(catalog.HTTPConfig{BaseURL: s.c.Catalog.BaseURL})
}

func (s *Server) initService() {
	rc := s.infra.redis.game
	prefix := s.c.Redis.Game.Prefix

	s.service.game = game.NewService(game.Config{
		Redis:          rc,
		Prefix:         prefix,
		Catalog:        s.catalogSource(),
		EventBus:       s.eb,
		AnswerWindow:   time.Duration(s.c.Game.AnswerWindowSeconds) * time.Second,
		CategoryCount:  s.c.Game.CategoryCount,
		CluesPerColumn: s.c.Game.CluesPerColumn,
		RandomPoolSize: s.c.Game.RandomPoolSize,
	})

	s.service.scores = score.NewService(score.Config{
		Redis:    rc,
		Prefix:   prefix,
		EventBus: s.eb,
	})

	s.service.votes = vote.NewService(vote.Config{
		Redis:  rc,
		Prefix: prefix,
	})

	s.service.bids = bid.NewService(bid.Config{
		Redis:  rc,
		Prefix: prefix,
		Game:   s.service.game,
	})

	s.service.attempts = attempt.NewService(attempt.Config{
		Redis:  rc,
		Prefix: prefix,
		Game:   s.service.game,
		Scores: s.service.scores,
		Bids:   s.service.bids,
		Grader: grading.NewGrader(s.c.Game.SimilarityThreshold),
	})

	s.service.identity = identity.NewService(identity.Config{
		Redis:  rc,
		Prefix: prefix,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Game:         s.service.game,
		Attempts:     s.service.attempts,
		Scores:       s.service.scores,
		Votes:        s.service.votes,
		Bids:         s.service.bids,
		Identity:     s.service.identity,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
