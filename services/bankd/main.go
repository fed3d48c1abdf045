package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"stablebank/core/genesis"
	"stablebank/native/bank"
	nativecommon "stablebank/native/common"
	"stablebank/observability"
	"stablebank/observability/logging"
	telemetry "stablebank/observability/otel"
	"stablebank/services/bankd/config"
	"stablebank/services/bankd/executor"
	"stablebank/services/bankd/server"
	"stablebank/services/bankd/storage"
	kv "stablebank/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/bankd/config.yaml", "path to bankd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("bankd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("BANK_ENV"))
	logger := logging.SetupWithFile("bankd", env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	spec, err := genesis.LoadSpec(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("bankd: load genesis: %v", err)
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bankd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     otlpHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		Attributes:  map[string]string{"bank.chain_id": strconv.FormatUint(spec.ChainID, 10)},
	})
	if err != nil {
		log.Fatalf("bankd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := kv.NewLevelDB(cfg.DataDir)
	if err != nil {
		log.Fatalf("bankd: open state: %v", err)
	}
	defer db.Close()
	world, err := genesis.Open(spec, db)
	if err != nil {
		log.Fatalf("bankd: open world: %v", err)
	}
	if cfg.Paused {
		world.Bank.SetPauses(nativecommon.Pauses{bank.ModuleName: true})
		logger.Warn("bank operations paused by configuration")
	}

	journal, err := openJournal(cfg.Journal)
	if err != nil {
		log.Fatalf("bankd: open journal: %v", err)
	}
	defer journal.Close()

	metrics := observability.Bank()
	exec, err := executor.New(world, executor.Options{
		Journal:         journal,
		Metrics:         metrics,
		Logger:          logger,
		CheckInvariants: cfg.CheckInvariants,
	})
	if err != nil {
		log.Fatalf("bankd: executor: %v", err)
	}

	if cfg.Telemetry.Metrics {
		if err := telemetry.RegisterGauges("stablebank/bankd", ledgerGauges(exec)...); err != nil {
			log.Fatalf("bankd: register gauges: %v", err)
		}
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Admin.HMACSecret,
		Issuer:     cfg.Admin.Issuer,
		Audience:   cfg.Admin.Audience,
		ClockSkew:  cfg.Admin.ClockSkew.Duration,
	}, logger)
	if err != nil {
		log.Fatalf("bankd: configure operator auth: %v", err)
	}
	limit := server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst}
	limiter := server.NewRateLimiter(map[string]server.RateLimit{
		server.RouteSubmit: limit,
		server.RouteQuery:  {RequestsPerMinute: limit.RequestsPerMinute * 4, Burst: limit.Burst * 4},
	}, metrics)
	if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		log.Fatalf("bankd: rate limit: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration,
		WriteTimeout:    cfg.Server.WriteTimeout.Duration,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		AdminScope:      cfg.Admin.Scope,
	}, exec, journal, auth, limiter, logger)
	if err != nil {
		log.Fatalf("bankd: server: %v", err)
	}

	logger.Info("bankd ready",
		slog.Uint64("chainId", world.ChainID),
		slog.String("addr", strings.ToLower(world.Bank.Address().Hex())),
		slog.String("journal", cfg.Journal.Driver),
		slog.String("dsn", logging.RedactDSN(cfg.Journal.DSN)),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("http server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func openJournal(cfg config.JournalConfig) (*storage.Journal, error) {
	if cfg.Driver == config.JournalPostgres {
		return storage.OpenPostgres(cfg.DSN)
	}
	return storage.OpenSQLiteFile(cfg.Path)
}

func ledgerGauges(exec *executor.Executor) []telemetry.Gauge {
	read := func(fn func(*bank.Engine) (*big.Int, error)) func() (float64, error) {
		return func() (float64, error) {
			var value float64
			err := exec.Read(func(world *genesis.World) error {
				amount, err := fn(world.Bank)
				if err != nil {
					return err
				}
				value, _ = new(big.Float).SetInt(amount).Float64()
				return nil
			})
			return value, err
		}
	}
	return []telemetry.Gauge{
		{Name: "bank.total_deposited", Description: "Settlement units held for depositors.", Read: read((*bank.Engine).TotalDeposited)},
		{Name: "bank.cap", Description: "Configured deposit cap in settlement units.", Read: read((*bank.Engine).Cap)},
	}
}

// otlpHeaders falls back to the standard exporter environment variable.
func otlpHeaders(configured map[string]string) map[string]string {
	if len(configured) > 0 {
		return configured
	}
	return telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
}
