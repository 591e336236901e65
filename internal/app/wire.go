package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tradeforge/indexcore/internal/amm"
	s3blob "github.com/tradeforge/indexcore/internal/blob/s3"
	"github.com/tradeforge/indexcore/internal/book"
	"github.com/tradeforge/indexcore/internal/cache/redis"
	"github.com/tradeforge/indexcore/internal/config"
	"github.com/tradeforge/indexcore/internal/crypto"
	"github.com/tradeforge/indexcore/internal/domain"
	"github.com/tradeforge/indexcore/internal/mev"
	"github.com/tradeforge/indexcore/internal/notify"
	"github.com/tradeforge/indexcore/internal/router"
	"github.com/tradeforge/indexcore/internal/service"
	"github.com/tradeforge/indexcore/internal/settlement"
	"github.com/tradeforge/indexcore/internal/store/postgres"
)

// Dependencies bundles every component that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	OrderStore      domain.OrderStore
	TradeStore      domain.TradeStore
	SettlementStore domain.SettlementStore
	AuditStore      domain.AuditStore

	// Caches
	Mirror      domain.BookMirror
	Commitments domain.CommitmentStore
	Lanes       domain.SettlementLanes
	RiskLedger  domain.RiskLedger
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Core pipeline
	Persister *book.Persister
	Engine    *book.Engine
	AMM       domain.AMM
	Queue     *settlement.Queue
	Router    *router.Router
	Batches   *mev.BatchEngine
	Guard     *mev.Guard
	Service   *service.ExecutionService

	// Blob storage
	Archiver domain.Archiver
	Blobs    domain.BlobReader

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that run the cold archiver.
func needsS3(cfg *config.Config) bool {
	if !cfg.Archiver.Enabled {
		return false
	}
	switch cfg.Mode {
	case "serve", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.SettlementStore = postgres.NewSettlementStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	mutations := postgres.NewMutationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Mirror = redis.NewBookMirror(redisClient)
	deps.Commitments = redis.NewCommitmentStore(redisClient)
	deps.Lanes = redis.NewSettlementLanes(redisClient)
	deps.RiskLedger = redis.NewRiskLedger(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Matching engine with write-behind persistence ---
	deps.Persister = book.NewPersister(
		mutations,
		cfg.Book.PersistInterval.Duration,
		cfg.Book.PersistMaxBatch,
		logger,
	)
	deps.Engine = book.NewEngine(book.EngineConfig{
		MirrorFailureThreshold: cfg.Book.MirrorFailureThreshold,
		MirrorGracePeriod:      cfg.Book.MirrorGracePeriod.Duration,
	}, deps.Mirror, deps.Persister, deps.SignalBus, logger)

	// --- AMM venue ---
	if cfg.Chain.Simulated {
		deps.AMM = ammPoolFromConfig(cfg)
	} else {
		keyHex, err := crypto.LoadSigningKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signing key: %w", err)
		}
		signer, err := crypto.NewTxSigner(keyHex, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: tx signer: %w", err)
		}
		onchain, err := amm.NewOnChain(ctx, amm.OnChainConfig{
			RPCURL:   cfg.Chain.RPCURL,
			Pools:    cfg.Chain.Pools,
			GasLimit: cfg.Chain.GasLimit,
		}, signer)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: onchain amm: %w", err)
		}
		closers = append(closers, onchain.Close)
		deps.AMM = onchain
	}

	// --- Settlement queue ---
	deps.Queue = settlement.NewQueue(settlement.Config{
		Workers:        cfg.Settlement.Workers,
		PollInterval:   cfg.Settlement.PollInterval.Duration,
		AttemptTimeout: cfg.Settlement.AttemptTimeout.Duration,
		MaxRetries:     cfg.Settlement.MaxRetries,
		RetryBaseDelay: cfg.Settlement.RetryBaseDelay.Duration,
		RetryMaxDelay:  cfg.Settlement.RetryMaxDelay.Duration,
	}, deps.Lanes, deps.AMM, deps.SettlementStore, deps.Notifier.Channel("settlement_failed"), logger)

	// --- Liquidity router ---
	deps.Router = router.New(router.Config{
		ChunkFraction:            cfg.Router.ChunkFraction,
		MaxIterations:            cfg.Router.MaxIterations,
		DustUnits:                cfg.Router.DustUnits,
		LargeOrderThresholdUnits: cfg.Router.LargeOrderThresholdUnits,
		LargeOrderAMMFraction:    cfg.Router.LargeOrderAMMFraction,
		HighPriorityUnits:        cfg.Router.HighPriorityUnits,
		MaxRetries:               cfg.Router.MaxRetries,
		SlippageBps:              cfg.Router.SlippageBps,
		SwapDeadline:             cfg.Router.SwapDeadline.Duration,
		SnapshotDepth:            cfg.Router.SnapshotDepth,
	}, deps.Engine, deps.AMM, deps.Queue, logger)

	// --- MEV protection ---
	recorder := book.NewTradeRecorder(deps.Persister, deps.SignalBus, logger)
	deps.Batches = mev.NewBatchEngine(mev.BatchConfig{
		Window:       cfg.MEV.BatchWindow.Duration,
		Grace:        cfg.MEV.BatchGrace.Duration,
		MaxImpactBps: cfg.MEV.MaxImpactBps,
	}, deps.Router, deps.AMM, recorder, logger)
	deps.Guard = mev.NewGuard(mev.Config{
		CommitRevealDelay:  cfg.MEV.CommitRevealDelay.Duration,
		CommitmentTTL:      cfg.MEV.CommitmentTTL.Duration,
		SandwichWindow:     cfg.MEV.SandwichWindow.Duration,
		SandwichSizeTolBps: cfg.MEV.SandwichSizeTolBps,
		FrontRunWindow:     cfg.MEV.FrontRunWindow.Duration,
		FrontRunEdgeBps:    cfg.MEV.FrontRunEdgeBps,
		BackRunBurst:       cfg.MEV.BackRunBurst,
		BackRunWindow:      cfg.MEV.BackRunWindow.Duration,
		HFLimit:            cfg.MEV.HFLimit,
		RiskScoreDelta:     cfg.MEV.RiskScoreDelta,
		VerifyWorkers:      cfg.MEV.VerifyWorkers,
	}, deps.Commitments, deps.RiskLedger, deps.RateLimiter, deps.Batches, logger)

	// --- S3 cold archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.OrderStore,
			deps.TradeStore,
			deps.SettlementStore,
			deps.Batches,
			deps.AuditStore,
			logger,
		)
		deps.Blobs = s3blob.NewReader(s3Client)
	}

	// --- API facade ---
	deps.Service = service.NewExecutionService(
		deps.Router,
		deps.Engine,
		deps.Guard,
		deps.Queue,
		deps.OrderStore,
		deps.TradeStore,
		deps.RateLimiter,
		deps.AuditStore,
		logger,
	)

	return deps, cleanup, nil
}

// ammPoolFromConfig builds an in-memory constant-product pool seeded from the
// configured reserves. Pairs without explicit reserves trade against a flat
// one-to-one pool.
func ammPoolFromConfig(cfg *config.Config) *amm.MemoryPool {
	pool := amm.NewMemoryPool()
	for _, pair := range cfg.Pairs {
		base := cfg.Chain.SimReserves[pair]
		if base <= 0 {
			base = 1_000_000_000_000
		}
		pool.SetLiquidity(pair, base, base)
	}
	return pool
}
