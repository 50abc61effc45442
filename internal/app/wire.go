package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/ChiefWoods/prediction/internal/blob/s3"
	"github.com/ChiefWoods/prediction/internal/cache/local"
	"github.com/ChiefWoods/prediction/internal/cache/redis"
	"github.com/ChiefWoods/prediction/internal/config"
	"github.com/ChiefWoods/prediction/internal/domain"
	"github.com/ChiefWoods/prediction/internal/engine"
	"github.com/ChiefWoods/prediction/internal/ledger/memory"
	"github.com/ChiefWoods/prediction/internal/metrics"
	"github.com/ChiefWoods/prediction/internal/notify"
	"github.com/ChiefWoods/prediction/internal/oracle"
	"github.com/ChiefWoods/prediction/internal/platform/pyth"
	"github.com/ChiefWoods/prediction/internal/service"
	"github.com/ChiefWoods/prediction/internal/store/postgres"
)

// ledgerBackend is what both reference ledgers provide.
type ledgerBackend interface {
	domain.Ledger
	domain.Depositor
}

// Dependencies bundles everything the run modes need.
type Dependencies struct {
	Ledger   ledgerBackend
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Limiter  domain.RateLimiter
	Oracle   domain.PriceOracle
	Archiver domain.SettlementArchiver
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Engine   *engine.Engine
	Service  *service.PredictionService

	// Checks are reported by the health endpoint.
	Checks map[string]func(context.Context) error
}

// Wire builds every dependency from cfg. The returned cleanup releases
// connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]func(context.Context) error{},
	}
	clock := domain.SystemClock{}

	units, err := valueUnits(cfg.Ledger.Units)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Ledger ---
	switch cfg.Storage.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		ledger := postgres.NewLedger(pg.Pool(), clock)
		if err := ledger.RegisterUnits(ctx, units...); err != nil {
			return fail(fmt.Errorf("wire: register units: %w", err))
		}
		deps.Ledger = ledger
		deps.Audit = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	default:
		deps.Ledger = memory.New(clock, units...)
		deps.Audit = memory.NewAuditLog(clock)
	}

	// --- Redis or in-process coordination ---
	var priceCache domain.PriceCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Bus = redis.NewSignalBus(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		priceCache = redis.NewPriceCache(rc, 0)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.Bus = local.NewBus(0)
		deps.Locks = local.NewLockManager()
		deps.Limiter = local.NewRateLimiter()
	}

	// --- Oracle ---
	deps.Oracle, err = buildOracle(cfg.Oracle, priceCache, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: oracle: %w", err))
	}

	// --- Settlement archive ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc), 0)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine and service ---
	deps.Engine = engine.New(deps.Ledger, deps.Oracle, clock, engine.Options{
		MaxStaleness:  cfg.Engine.MaxStaleness.Duration,
		ResolveWindow: cfg.Engine.ResolveWindow.Duration,
	})
	svc := service.NewPredictionService(service.Deps{
		Engine:    deps.Engine,
		Ledger:    deps.Ledger,
		Bus:       deps.Bus,
		Audit:     deps.Audit,
		Metrics:   deps.Metrics,
		Notifier:  deps.Notifier,
		Archiver:  deps.Archiver,
		Depositor: deps.Ledger,
		Clock:     clock,
		Logger:    logger,
	})
	deps.Service = svc
	deps.Checks["ledger"] = svc.Ping

	return deps, cleanup, nil
}

// buildOracle assembles the configured price source. With write-through the
// pyth client fills the Redis cache; with fallback the cache answers when
// pyth fails.
func buildOracle(cfg config.OracleConfig, cache domain.PriceCache, logger *slog.Logger) (domain.PriceOracle, error) {
	switch cfg.Provider {
	case "static":
		prices := make(map[common.Hash]decimal.Decimal, len(cfg.StaticPrices))
		for feed, p := range cfg.StaticPrices {
			d, err := decimal.NewFromString(p)
			if err != nil {
				return nil, fmt.Errorf("static price for %s: %w", feed, err)
			}
			prices[common.HexToHash(feed)] = d
		}
		return oracle.NewStatic(nil, prices), nil
	case "redis":
		if cache == nil {
			return nil, fmt.Errorf("redis provider needs redis enabled")
		}
		return oracle.NewCached(cache), nil
	default:
		var src domain.PriceOracle = pyth.NewClient(cfg.PythURL, cfg.Timeout.Duration)
		if cache == nil {
			return src, nil
		}
		if cfg.WriteThrough {
			src = oracle.NewWriteThrough(src, cache, logger)
		}
		if cfg.FallbackToCache {
			return oracle.Chain{src, oracle.NewCached(cache)}, nil
		}
		return src, nil
	}
}

func valueUnits(cfgs []config.UnitConfig) ([]domain.ValueUnit, error) {
	units := make([]domain.ValueUnit, 0, len(cfgs))
	for _, u := range cfgs {
		if !common.IsHexAddress(u.Address) {
			return nil, fmt.Errorf("value unit %q is not a hex address", u.Address)
		}
		units = append(units, domain.ValueUnit{
			Address:  common.HexToAddress(u.Address),
			Symbol:   strings.ToUpper(u.Symbol),
			Decimals: u.Decimals,
		})
	}
	return units, nil
}
