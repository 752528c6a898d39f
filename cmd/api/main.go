package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/medihub-cart/internal/backend"
	"github.com/noah-isme/medihub-cart/internal/cache"
	"github.com/noah-isme/medihub-cart/internal/cart"
	"github.com/noah-isme/medihub-cart/internal/checkout"
	"github.com/noah-isme/medihub-cart/internal/common"
	"github.com/noah-isme/medihub-cart/internal/config"
	"github.com/noah-isme/medihub-cart/internal/events"
	"github.com/noah-isme/medihub-cart/internal/geo"
	"github.com/noah-isme/medihub-cart/internal/health"
	"github.com/noah-isme/medihub-cart/internal/lock"
	"github.com/noah-isme/medihub-cart/internal/obs"
	"github.com/noah-isme/medihub-cart/internal/ratelimit"
	"github.com/noah-isme/medihub-cart/internal/security"
	"github.com/noah-isme/medihub-cart/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "medihub")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   obs.DefaultServiceName,
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(rootCtx, cfg, metricsEnabled, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	memoryKV := cart.NewMemoryKV()
	memoryKV.TTL = cfg.CartTTL
	var kv cart.KV = memoryKV
	bus := events.NewBus()
	if redisClient != nil {
		kv = cart.RedisKV{Client: redisClient, TTL: cfg.CartTTL}
		bus.Notifiers = append(bus.Notifiers, events.RedisNotifier{Client: redisClient, Channel: cfg.EventsChannel})
		go func() {
			if err := events.Listen(rootCtx, redisClient, cfg.EventsChannel, bus, logger); err != nil {
				logger.Error().Err(err).Msg("events listener stopped")
			}
		}()
	}
	if len(cfg.EventsQueueTopics) > 0 {
		tasks, err := newTaskClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("initialise task queue")
		}
		defer func() { _ = tasks.Close() }()
		bus.Notifiers = append(bus.Notifiers, events.QueueNotifier{
			Client:   tasks,
			Queue:    cfg.EventsQueueName,
			Topics:   cfg.EventsQueueTopics,
			MaxRetry: 10,
		})
	}
	if redisClient == nil {
		go memoryKV.RunSweeper(rootCtx, time.Minute)
	}
	bus.Subscribe(func(ev events.Event) {
		logger.Debug().Str("topic", ev.Topic).Str("session_id", ev.Session).Msg("event")
	})

	cartStore := cart.NewStore(kv, bus, logger)
	cartHandler := &cart.Handler{Store: cartStore}

	backendClient := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout, logger)
	pharmacies := backend.NewCachedPharmacies(backendClient, cache.New(redisClient, cfg.PharmacyCacheTTL), logger)

	checkoutSvc := &checkout.Service{
		Cart:      cartStore,
		Flows:     checkout.FlowStore{KV: kv},
		Orders:    backendClient,
		Surcharge: geo.Resolver{Pharmacies: pharmacies, Timeout: cfg.GeolocationTimeout, Logger: logger},
		Validator: checkout.Validator{Regions: cfg.ServiceRegions},
		LockTTL:   cfg.CheckoutLockTTL,
		Bus:       bus,
		Logger:    logger,
	}
	if redisClient != nil {
		checkoutSvc.Locker = lock.Locker{R: redisClient, Prefix: "medihub:lock:", MaxWait: cfg.CheckoutLockTTL}
	}
	idem := common.Idem{
		R:     redisClient,
		TTL:   cfg.IdempotencyTTL,
		Scope: func(r *http.Request) string { return session.Key(r.Context(), "idem") },
	}
	checkoutHandler := &checkout.Handler{
		Svc:              checkoutSvc,
		SubmitMiddleware: []func(http.Handler) http.Handler{idem.Middleware},
	}

	sessions := session.NewResolver(cfg.CookieDomain, cfg.CookieSecure, cfg.SessionTTL)
	sessions.SameSite = cfg.CookieSameSite

	limiter, err := newLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token", session.DefaultHeaderName, common.IdempotencyHeader},
		ExposedHeaders:   []string{session.DefaultHeaderName, "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS: envBool("SECURE_HSTS_ENABLED", cfg.CookieSecure),
	}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", false)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(sessions.Middleware)
		v.Use(obs.RequestLogger{Logger: logger}.Middleware)
		if envBool("SECURE_CSRF_ENABLED", false) {
			v.Use(security.CSRF{SessionHeader: session.DefaultHeaderName, Secure: cfg.CookieSecure}.Middleware)
		}
		if limiter != nil {
			v.Use(ratelimit.Handler{
				Limiter: limiter,
				Config:  ratelimit.Config{Key: ratelimit.BySession, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
				OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
			}.Middleware)
		}

		v.Route("/cart", cartHandler.Routes)
		v.Route("/checkout", checkoutHandler.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		health.SetReady(false)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("backend", cfg.BackendBaseURL).Bool("redis", redisClient != nil).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// connectRedis returns nil when REDIS_URL is unset; state then lives in memory.
func connectRedis(ctx context.Context, cfg *config.Config, metricsEnabled bool, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, using in-memory state")
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// newTaskClient opens the asynq producer used to hand events to fulfilment
// workers. asynq keeps its own connection pool.
func newTaskClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	return asynq.NewClient(opt), nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Allower, error) {
	switch cfg.RateLimitDriver {
	case "off":
		return nil, nil
	case "ulule":
		return ratelimit.NewUlule(rdb, "medihub:ratelimit")
	default:
		if rdb == nil {
			// the sliding window needs sorted sets; fall back to ulule's memory store
			return ratelimit.NewUlule(nil, "medihub:ratelimit")
		}
		return ratelimit.SlidingWindow{Client: rdb, Prefix: "ratelimit:"}, nil
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
