// Package agentservice wires the voice email agent together and runs it.
package agentservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalmail/vocalmail/internal/api"
	"github.com/vocalmail/vocalmail/internal/config"
	emb "github.com/vocalmail/vocalmail/internal/embeddings"
	"github.com/vocalmail/vocalmail/internal/factory"
	"github.com/vocalmail/vocalmail/internal/health"
	"github.com/vocalmail/vocalmail/internal/ingest"
	"github.com/vocalmail/vocalmail/internal/logger"
	"github.com/vocalmail/vocalmail/internal/orchestrator"
	"github.com/vocalmail/vocalmail/internal/provider"
	"github.com/vocalmail/vocalmail/internal/reasoner"
	"github.com/vocalmail/vocalmail/internal/searchindex"
	"github.com/vocalmail/vocalmail/internal/speech"
	"github.com/vocalmail/vocalmail/internal/store"
	"github.com/vocalmail/vocalmail/internal/tools"
	"github.com/vocalmail/vocalmail/internal/transport"
)

// Run starts the voice agent and blocks until shutdown or error.
func Run() error {
	log := logger.New("vocalmail")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("search_index_url", cfg.SearchIndexURL).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("email_mode", cfg.EmailMode).
		Msg("Voice email agent starting")

	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	engine := ingest.New(ingest.Config{
		MaxMessages: cfg.IngestMaxMessages,
		PageSize:    cfg.IngestPageSize,
		Interval:    time.Duration(cfg.IngestIntervalSeconds) * time.Second,
	}, deps.provider, deps.store, deps.index, deps.embedder, log)

	router := api.NewRouter(deps.store, deps.index, engine)

	svcHealth := startHealthCheckers(ctx, cfg, log, deps.store, deps.index, deps.embedder)

	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	// Initial mailbox sync before answering questions about it.
	if batch, err := engine.RunIngest(ctx); err != nil {
		log.Warn().Err(err).Msg("initial mailbox sync failed; continuing with local copy")
	} else {
		log.Info().Int("new", batch.NewCount).Int("duplicates", batch.DuplicateCount).Msg("initial mailbox sync complete")
	}
	if cfg.IngestIntervalSeconds > 0 {
		go func() {
			if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("ingest loop stopped")
			}
		}()
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Conversation loop over the live speech channel.
	convCh := startConversation(ctx, cfg, deps, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Agent exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	case err := <-convCh:
		if err != nil && ctx.Err() == nil {
			log.Error().Stack().Err(err).Msg("Conversation loop failed")
			return err
		}
		return nil
	}
}

// RunIngestOnce executes a single mailbox sync cycle and exits.
func RunIngestOnce() error {
	log := logger.New("vocalmail-ingest")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	ctx, stop := newServerContext()
	defer stop()

	deps, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	engine := ingest.New(ingest.Config{
		MaxMessages: cfg.IngestMaxMessages,
		PageSize:    cfg.IngestPageSize,
	}, deps.provider, deps.store, deps.index, deps.embedder, log)

	batch, err := engine.RunIngest(ctx)
	if err != nil {
		log.Error().Stack().Err(err).Msg("mailbox sync failed")
		return err
	}
	log.Info().
		Int("fetched", len(batch.FetchedIDs)).
		Int("new", batch.NewCount).
		Int("duplicates", batch.DuplicateCount).
		Int("backfilled", len(batch.BackfilledIDs)).
		Int("failed", len(batch.FailedIDs)).
		Msg("mailbox sync complete")
	return nil
}

type dependencies struct {
	store    store.Store
	index    searchindex.Index
	embedder emb.Provider
	provider provider.MailProvider
	sender   transport.Transport
}

// initDependencies constructs required components and enforces fail-fast on missing deps.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}

	idx, err := factory.NewSearchIndex(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Search index adapter unavailable")
		return nil, err
	}

	embProvider := factory.NewEmbeddingProvider(ctx, cfg, log)
	if embProvider == nil {
		return nil, fmt.Errorf("embedding provider not configured")
	}

	mail, err := factory.NewMailProvider(cfg)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Mail provider unavailable")
		return nil, err
	}

	sender, err := factory.NewSendTransport(cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Send transport unavailable")
		return nil, err
	}

	return &dependencies{store: st, index: idx, embedder: embProvider, provider: mail, sender: sender}, nil
}

// startConversation connects the speech channel and runs the orchestrator.
func startConversation(ctx context.Context, cfg *config.Config, deps *dependencies, log zerolog.Logger) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		session, err := speech.Connect(ctx, cfg.SpeechURL, cfg.SpeechAPIKey, cfg.SpeechVoice, log)
		if err != nil {
			errCh <- err
			return
		}
		defer func() { _ = session.Close() }()

		registry := tools.NewRegistry(deps.store, deps.index, deps.embedder, deps.sender, log)
		rs := reasoner.NewOpenAIReasoner(cfg.ReasonerBaseURL, cfg.ReasonerAPIKey, cfg.ReasonerModel)
		orch := orchestrator.New(session, session, rs, registry, cfg.MaxToolRounds, log)

		errCh <- orch.Run(ctx)
	}()
	return errCh
}

// startHealthCheckers starts component checkers and service-level aggregator; binds health.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, idx searchindex.Index, embProvider emb.Provider) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	idxChecker := searchindex.NewSearchIndexHealthChecker(idx, log, probeTimeout)
	go idxChecker.Start(ctx, interval)
	checkers = append(checkers, idxChecker)

	embChecker := emb.NewProviderHealthChecker(embProvider, log, probeTimeout)
	go embChecker.Start(ctx, interval)
	checkers = append(checkers, embChecker)

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
