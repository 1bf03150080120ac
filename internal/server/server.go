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

	"github.com/simplysimi/brains/internal/api"
	"github.com/simplysimi/brains/internal/directory"
	"github.com/simplysimi/brains/internal/domain"
	"github.com/simplysimi/brains/internal/event"
	"github.com/simplysimi/brains/internal/identity"
	"github.com/simplysimi/brains/internal/leaderboard"
	"github.com/simplysimi/brains/internal/quiz"
	"github.com/simplysimi/brains/internal/score"
	"github.com/simplysimi/brains/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Cache struct {
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
		Addr string
		User string
		Pass string
		Name string
	}

	Directory struct {
		BaseURL         string
		APIKey          string
		RefreshInterval time.Duration
		PoolSize        int
	}

	Identity struct {
		// Mode is "jwt" or "static". Static serves the demo user below and
		// exists for local development only.
		Mode   string
		Secret string

		Demo struct {
			Fid      int64
			Username string
		}
	}

	Quiz struct {
		QuestionCount int
		TimeBudget    int
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			cache  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		engine    *quiz.Engine
		sessions  *quiz.Store
		directory *directory.Service
		refresher *directory.Refresher
		identity  identity.Provider
		score     *score.Service
		board     *leaderboard.Service
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

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
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
	s.infra.redis.cache, err = connect(s.c.Redis.Cache.Addrs, s.c.Redis.Cache.Pass)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
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

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
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

func (s *Server) initService() {
	prefix := s.c.Redis.Cache.Prefix

	s.service.directory = directory.NewService(directory.Config{
		BaseURL: s.c.Directory.BaseURL,
		APIKey:  s.c.Directory.APIKey,
		Redis:   s.infra.redis.cache,
		Prefix:  prefix,
	})

	avatars := directory.NewAvatarChecker(nil)

	s.service.refresher = directory.NewRefresher(
		s.service.directory,
		avatars,
		s.c.Directory.RefreshInterval,
		s.c.Directory.PoolSize,
	)

	s.service.engine = quiz.NewEngine(quiz.Config{
		Avatars: avatars,
	})

	s.service.sessions = quiz.NewStore(quiz.StoreConfig{
		Redis:  s.infra.redis.cache,
		Prefix: prefix,
	})

	switch s.c.Identity.Mode {
	case "static":
		s.service.identity = identity.NewStaticProvider(domain.UserIdentity{
			Fid:      s.c.Identity.Demo.Fid,
			Username: s.c.Identity.Demo.Username,
		})
	default:
		s.service.identity = identity.NewJWTProvider(s.c.Identity.Secret)
	}

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		DB:       s.infra.postgres,
	})

	s.service.board = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.service.score,
		Redis:    s.infra.redis.cache,
		Prefix:   prefix,
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
		Engine:       s.service.engine,
		Sessions:     s.service.sessions,
		Directory:    s.service.directory,
		Identity:     s.service.identity,
		Score:        s.service.score,
		Leaderboard:  s.service.board,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,

		QuestionCount: s.c.Quiz.QuestionCount,
		TimeBudget:    s.c.Quiz.TimeBudget,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	if err := s.service.score.RunMigrations(ctx); err != nil {
		slog.ErrorContext(ctx, "server: migrations failed", "error", err)
		panic(err)
	}

	s.service.refresher.Start(ctx)

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

	s.service.refresher.Stop()
	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
