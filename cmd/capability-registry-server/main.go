package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triage-ai/palisade/services/capability_registry/internal/attestation"
	"github.com/triage-ai/palisade/services/capability_registry/internal/auth"
	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
	"github.com/triage-ai/palisade/services/capability_registry/internal/metrics"
	"github.com/triage-ai/palisade/services/capability_registry/internal/registry"
	"github.com/triage-ai/palisade/services/capability_registry/internal/server"
	"github.com/triage-ai/palisade/services/capability_registry/internal/storage"
	"github.com/triage-ai/palisade/services/capability_registry/internal/toolcheck"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("CAPREG_LOG_LEVEL", "info"), os.Getenv("CAPREG_LOG_FILE"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("CAPREG_PORT", "50061")
	metricsPort := envOrDefault("CAPREG_METRICS_PORT", "9461")
	maxWorkers := envOrDefaultInt("CAPREG_MAX_WORKERS", capability.MaxRegisteredWorkers)
	defaultTTL := envOrDefaultDuration("CAPREG_DEFAULT_TTL", capability.DefaultExpiration)
	attestationTTL := envOrDefaultDuration("CAPREG_ATTESTATION_TTL", attestation.DefaultTTL)
	trustedKeys := envList("CAPREG_TRUSTED_KEYS")
	manifestDir := os.Getenv("CAPREG_MANIFEST_DIR")
	attestationKey := os.Getenv("CAPREG_ATTESTATION_KEY")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	authCacheTTL := envOrDefaultInt("CAPREG_AUTH_CACHE_TTL_S", 30)
	toolCacheTTL := envOrDefaultInt("CAPREG_TOOL_CACHE_TTL_S", 60)

	logger.Info("starting capability registry server",
		zap.String("port", port),
		zap.Int("max_workers", maxWorkers),
		zap.Duration("attestation_ttl", attestationTTL),
		zap.Int("trusted_keys", len(trustedKeys)),
	)

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Auth: Postgres if DSN provided, otherwise static
	var authenticator auth.Authenticator
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		logger.Info("postgres authenticator connected")
	} else {
		authenticator = auth.NewStaticAuthenticator(auth.RoleAdmin)
		logger.Warn("no POSTGRES_DSN set, every bearer token is accepted as admin")
	}

	// Attestation and registry
	attester := attestation.NewService(attestation.ServiceConfig{
		TTL:         attestationTTL,
		TrustedKeys: trustedKeys,
		Metrics:     m,
		Logger:      logger,
	})
	reg := registry.New(registry.Config{
		Verifier:   attester,
		Writer:     writer,
		Metrics:    m,
		Logger:     logger,
		MaxWorkers: maxWorkers,
	})

	if manifestDir != "" {
		factory := capability.NewFactory(capability.Config{
			Permissions: capability.DefaultPermissions(),
			Expiration:  defaultTTL,
		}, nil)
		n, err := loadManifests(manifestDir, factory, attester, attestationKey, reg)
		if err != nil {
			logger.Fatal("failed to load manifests", zap.String("dir", manifestDir), zap.Error(err))
		}
		logger.Info("bootstrap manifests registered", zap.String("dir", manifestDir), zap.Int("workers", n))
	}

	host := toolcheck.NewCachedChecker(toolcheck.CachedCheckerConfig{
		CacheTTL: time.Duration(toolCacheTTL) * time.Second,
		Logger:   logger,
	})

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)

	registryServer := server.NewCapabilityRegistryServer(reg, authenticator, host, logger)
	server.RegisterCapabilityRegistryServiceServer(grpcServer, registryServer)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for debugging with grpcurl
	reflection.Register(grpcServer)

	// Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              ":" + metricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Listen
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", port), zap.Error(err))
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		healthServer.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
	}()

	logger.Info("capability registry server listening", zap.String("addr", lis.Addr().String()))
	if err := grpcServer.Serve(lis); err != nil {
		logger.Fatal("grpc server failed", zap.Error(err))
	}
}

// loadManifests registers one worker per *.yaml file in dir. When key is set
// every tool is attested with it before registration.
func loadManifests(dir string, f *capability.Factory, svc *attestation.Service, key string, reg *registry.Registry) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return 0, err
	}
	for _, path := range paths {
		m, err := declaration.LoadManifest(path)
		if err != nil {
			return 0, err
		}
		b, err := m.Bundle(f)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
		if key != "" {
			if err := svc.AttestBundle(&b, key, "capability-registry"); err != nil {
				return 0, fmt.Errorf("%s: %w", path, err)
			}
		}
		if err := reg.Register(b, "bootstrap"); err != nil {
			return 0, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(paths), nil
}

func mustBuildLogger(level, file string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	if file == "" {
		return logger
	}

	// Tee to a rotated file for hosts without a log shipper.
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(rotator),
		cfg.Level,
	)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
