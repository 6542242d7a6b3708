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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/SelinCifcii/decision-wheel/internal/api"
	"github.com/SelinCifcii/decision-wheel/internal/event"
	"github.com/SelinCifcii/decision-wheel/internal/registry"
	"github.com/SelinCifcii/decision-wheel/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis redis.UniversalClient
	}

	service struct {
		registry *registry.Service
	}

	hub       *api.Hub
	hubCancel context.CancelFunc

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
	s.initTelemetry()
	return s, nil
}

func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initService() {
	s.service.registry = registry.NewService(registry.Config{
		EventBus: s.eb,
		Publisher: api.NewPublisher(api.PublisherConfig{
			Redis:  s.infra.redis,
			Prefix: s.c.Redis.Prefix,
		}),
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	s.hub = api.NewHub(api.HubConfig{
		Redis:  s.infra.redis,
		Prefix: s.c.Redis.Prefix,
	})

	h := api.NewHandler(api.HandlerConfig{
		Hub:      s.hub,
		Registry: s.service.registry,
	})
	h.Register(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) initTelemetry() {
	telemetry.NewMetrics(telemetry.MetricsConfig{
		EventBus:      s.eb,
		ActiveRooms:   s.service.registry.RoomCount,
		ActiveClients: s.hub.ConnCount,
	})
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.hubCancel = cancel

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, "server: hub consuming room broadcasts")
		return s.hub.Run(ctx)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err := eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.hubCancel != nil {
		s.hubCancel()
	}

	s.eb.Stop()

	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
