package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/memchat/internal/config"
	"github.com/zhouzirui/memchat/internal/handler"
	"github.com/zhouzirui/memchat/internal/logging"
	"github.com/zhouzirui/memchat/internal/model/persona"
	"github.com/zhouzirui/memchat/internal/observability"
	"github.com/zhouzirui/memchat/internal/service/ai"
	"github.com/zhouzirui/memchat/internal/service/bridge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := logging.Setup(cfg.Log, os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}
	if envErr != nil {
		log.Info().Err(envErr).Msg("no .env file loaded, continuing with system environment variables only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := handler.Deps{
		Personas: persona.NewMemoryStore(persona.Seed()),
		Metrics:  observability.NewStreamingMetrics(reg),
		Gatherer: reg,
	}

	if b, err := newBridge(ctx, cfg); err != nil {
		log.Warn().Err(err).Str("provider", string(cfg.AI.Provider)).Msg("continuing without AI functionality")
	} else {
		deps.Bridge = b
		log.Info().
			Str("provider", string(cfg.AI.Provider)).
			Int("stream_buffer", cfg.Stream.Buffer).
			Dur("generation_timeout", cfg.Stream.GenerationTimeout).
			Msg("AI service initialized successfully")
	}

	startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func newBridge(ctx context.Context, cfg *config.Config) (*bridge.Bridge, error) {
	if !cfg.AI.Enabled() {
		return nil, errors.New("model credentials are not configured")
	}

	chatModel, err := ai.NewChatModel(ctx, cfg.AI)
	if err != nil {
		return nil, err
	}

	svc, err := ai.NewService(chatModel, cfg.AI.StreamResponse)
	if err != nil {
		return nil, err
	}

	return bridge.New(svc, bridge.Options{
		Buffer:  cfg.Stream.Buffer,
		Timeout: cfg.Stream.GenerationTimeout,
	}), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	ln, err := net.Listen("tcp", serverCfg.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", serverCfg.Addr).Msg("failed to bind listener")
	}

	// No WriteTimeout: token streams stay open for as long as generation
	// runs, which GENERATION_TIMEOUT bounds.
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("memchat backend listening")
	if err := serve(ctx, srv, ln, serverCfg.ShutdownGrace); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("memchat backend stopped")
}

// serve runs srv on ln until ctx ends, then lets in-flight streams drain for
// up to grace before closing whatever is still open.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()

		if err := srv.Shutdown(drainCtx); err != nil {
			log.Warn().Err(err).Dur("grace", grace).Msg("grace period elapsed, closing remaining streams")
			_ = srv.Close()
		}
		return nil
	})

	return g.Wait()
}
