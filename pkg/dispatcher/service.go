package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/analytics"
	"support-chat-dispatcher/pkg/chat"
	"support-chat-dispatcher/pkg/config"
	"support-chat-dispatcher/pkg/dedup"
	"support-chat-dispatcher/pkg/handlers"
	"support-chat-dispatcher/pkg/handoff"
	"support-chat-dispatcher/pkg/metrics"
	"support-chat-dispatcher/pkg/queue"
	redisClient "support-chat-dispatcher/pkg/redis"
	"support-chat-dispatcher/pkg/sentiment"
	"support-chat-dispatcher/pkg/server"
	"support-chat-dispatcher/pkg/session"
	"support-chat-dispatcher/pkg/workflow"
)

// Service owns every component of the dispatcher and their lifetimes
type Service struct {
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	redis     *redisClient.Client
	archive   *session.PostgresArchive
	queue     *queue.Manager
	dedup     *dedup.Filter
	handoffs  *handoff.Manager
	sessions  *session.Registry
	analytics analytics.Sink
	processor *chat.Processor
	hub       *handlers.Hub
	handler   *handlers.Handler
	server    *http.Server
}

// NewService wires the dispatcher. Redis and Postgres are optional: an
// empty or unreachable REDIS_URL falls back to in-memory stores, an empty
// DATABASE_URL disables the conversation archive.
func NewService(ctx context.Context, cfg *config.Config, logger *logrus.Logger, reg *prometheus.Registry) (*Service, error) {
	m := metrics.NewMetrics(reg)
	s := &Service{
		config:  cfg,
		logger:  logger,
		metrics: m,
	}

	if cfg.RedisURL != "" {
		rc, err := redisClient.NewClient(redisClient.DefaultConnectionConfig(cfg.RedisURL), logger)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, using in-memory stores")
		} else {
			s.redis = rc
		}
	}

	var sessionStore session.Store
	var handoffStore handoff.Store
	if s.redis != nil {
		rdb := s.redis.GetRedisClient()
		sessionStore = session.NewRedisStore(rdb, cfg.SessionTTLDuration(), logger, m)
		handoffStore = handoff.NewRedisStore(rdb, cfg.HandoffRetentionDuration(), logger, m)
		s.analytics = analytics.NewRedisSink(rdb, logger, m)
	} else {
		sessionStore = session.NewMemoryStore(cfg.SessionTTLDuration())
		handoffStore = handoff.NewMemoryStore(cfg.HandoffRetentionDuration())
		s.analytics = analytics.NewMemorySink()
	}

	var archive session.Archive
	if cfg.DatabaseURL != "" {
		pg, err := session.NewPostgresArchive(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			s.closeStores()
			return nil, fmt.Errorf("failed to open conversation archive: %w", err)
		}
		s.archive = pg
		archive = pg
	}

	engine, err := newEngine(ctx, cfg, logger)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	s.queue = queue.NewManager(cfg, logger, m)
	s.dedup = dedup.NewFilter(dedup.Options{
		Window:            cfg.DedupWindowDuration(),
		CleanupInterval:   cfg.DedupCleanupIntervalDuration(),
		HistoryPerSession: cfg.DedupHistoryPerSession,
	}, logger)
	s.handoffs = handoff.NewManager(handoffStore, cfg, logger, m)
	s.sessions = session.NewRegistry(sessionStore, archive, logger, m)
	s.hub = handlers.NewHub(logger)

	s.processor = chat.NewProcessor(chat.Dependencies{
		Queue:     s.queue,
		Dedup:     s.dedup,
		Sessions:  s.sessions,
		Engine:    engine,
		Handoffs:  s.handoffs,
		Sentiment: sentiment.NewAnalyzer(logger),
		Analytics: s.analytics,
		Emitter:   s.hub,
		Logger:    logger,
		Metrics:   m,
	})
	s.queue.SetProcessFunc(s.processor.Process)

	var ping func(ctx context.Context) error
	if s.redis != nil {
		ping = s.redis.Ping
	}
	s.handler = handlers.NewHandler(s.queue, s.dedup, s.handoffs, s.sessions, s.analytics, logger, ping)
	socket := handlers.NewChatSocket(s.hub, s.processor, cfg, logger)
	s.server = server.NewHTTPServer(cfg, s.handler, socket, reg, logger)

	return s, nil
}

// newEngine picks the LLM responder when Ark is configured, keeping the
// template responder as its fallback.
func newEngine(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (workflow.Engine, error) {
	kb := workflow.DefaultKnowledgeBase()
	if cfg.KnowledgeBasePath != "" {
		loaded, err := workflow.LoadKnowledgeBase(cfg.KnowledgeBasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load knowledge base: %w", err)
		}
		kb = loaded
	}
	template := workflow.NewTemplateResponder(kb)

	if !cfg.LLMEnabled() {
		logger.Info("Ark credentials not set, answering from the knowledge base")
		return workflow.NewRouter(template, nil, logger), nil
	}

	chatModel, err := workflow.NewArkChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	llm, err := workflow.NewLLMResponder(ctx, chatModel, kb, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM responder: %w", err)
	}

	logger.WithField("model", cfg.ArkModel).Info("Using Ark LLM responder")
	return workflow.NewRouter(llm, template, logger), nil
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting chat dispatcher")

	if err := s.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message queue: %w", err)
	}

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"instance_id": s.config.InstanceID,
		"redis":       s.redis != nil,
		"archive":     s.archive != nil,
	}).Info("Chat dispatcher started successfully")
	return nil
}

// Stop closes the listener, drains the queue and releases the stores
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping chat dispatcher")

	var firstErr error
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			firstErr = err
		}
	}

	if err := s.queue.Stop(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to drain message queue")
		if firstErr == nil {
			firstErr = err
		}
	}

	s.closeStores()
	s.logger.Info("Chat dispatcher stopped")
	return firstErr
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func (s *Service) closeStores() {
	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close conversation archive")
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close Redis connection")
		}
	}
}
