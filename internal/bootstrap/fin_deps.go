package bootstrap

import (
	"context"
	"strings"
	"time"

	"finanzas/adapter/out/llm"
	"finanzas/adapter/out/mailapi"
	"finanzas/adapter/out/mongodb"
	"finanzas/adapter/out/persistence"
	"finanzas/adapter/out/rates"
	"finanzas/config"
	"finanzas/core/port/out"
	"finanzas/core/service/anomaly"
	"finanzas/core/service/categorize"
	"finanzas/core/service/fx"
	"finanzas/core/service/learn"
	"finanzas/core/service/normalize"
	"finanzas/core/service/parser"
	"finanzas/core/service/reconcile"
	"finanzas/core/service/recurring"
	"finanzas/core/service/statement"
	syncsvc "finanzas/core/service/sync"
	"finanzas/infra/database"
	"finanzas/internal/stream"
	"finanzas/pkg/cache"
	"finanzas/pkg/logger"
	"finanzas/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies is the composition root. Everything downstream of config is
// built here once and shared by the API and the worker.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Mongo  *mongo.Client

	// Repositories
	UnitOfWork    out.UnitOfWork
	Profiles      out.ProfileRepository
	Transactions  out.TransactionRepository
	Merchants     out.MerchantRepository
	Cards         out.CardRepository
	Patterns      out.PatternRepository
	Suggestions   out.SuggestionRepository
	Contacts      out.ContactRepository
	Subcategories out.SubcategoryRepository
	Statements    out.StatementRepository
	Subscriptions out.SubscriptionRepository
	RateStore     out.RateRepository
	Runs          out.SyncRunRepository
	Duplicates    out.DuplicateRepository
	Analytics     out.AnalyticsRepository

	// Outbound adapters
	Mail    out.MailProvider
	Archive out.RawArchive
	LLM     out.LLM

	// Messaging
	Stream   *stream.RedisStream
	Producer *stream.Producer

	// Cache
	Aggregates *cache.RedisCache

	// Services
	Parsers     *parser.Registry
	Normalizer  *normalize.Service
	Categorizer *categorize.Service
	Rates       *fx.Service
	StmtParser  *statement.Parser
	Reconciler  *reconcile.Service
	Pipeline    *syncsvc.Pipeline
	Syncs       *syncsvc.Service
	Learn       *learn.Service
	Recurring   *recurring.Service
	Anomaly     *anomaly.Service
}

const streamGroup = "finanzas-workers"

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	log := logger.Default()
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres: pgxpool for health checks, sqlx for the adapters. Simple
	// protocol keeps sqlx compatible with PgBouncer.
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })
	metrics.RegisterPool("postgres", sqlDB.DB)

	// Redis backs the job streams and the aggregate cache. Without it
	// neither the worker nor the manual sync trigger can run.
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	deps.Aggregates = cache.NewRedisCache(redisClient)

	// Mongo archives raw bodies and statement PDFs. The pipeline degrades
	// to no archival when it is absent.
	if cfg.MongoDBURL != "" {
		mongoClient, err := database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			log.WithError(err).Warn("mongo connection failed, raw archive disabled")
		} else {
			deps.Mongo = mongoClient
			cleanups = append(cleanups, func() {
				_ = mongoClient.Disconnect(context.Background())
			})
			archive := mongodb.NewArchiveAdapter(mongoClient.Database(cfg.MongoDBName))
			if err := archive.EnsureIndexes(context.Background()); err != nil {
				log.WithError(err).Warn("mongo index creation failed")
			}
			deps.Archive = archive
		}
	}

	// Repositories
	deps.UnitOfWork = persistence.NewUnitOfWork(sqlDB)
	deps.Profiles = persistence.NewProfileRepository(sqlDB)
	deps.Transactions = persistence.NewTransactionRepository(sqlDB)
	deps.Merchants = persistence.NewMerchantRepository(sqlDB)
	deps.Cards = persistence.NewCardRepository(sqlDB)
	deps.Patterns = persistence.NewPatternRepository(sqlDB)
	deps.Suggestions = persistence.NewSuggestionRepository(sqlDB)
	deps.Contacts = persistence.NewContactRepository(sqlDB)
	deps.Subcategories = persistence.NewSubcategoryRepository(sqlDB)
	deps.Statements = persistence.NewStatementRepository(sqlDB)
	deps.Subscriptions = persistence.NewSubscriptionRepository(sqlDB)
	deps.RateStore = persistence.NewRateRepository(sqlDB)
	deps.Runs = persistence.NewSyncRunRepository(sqlDB)
	deps.Duplicates = persistence.NewDuplicateRepository(sqlDB)
	deps.Analytics = persistence.NewAnalyticsRepository(sqlDB)

	// Outbound adapters
	deps.Mail = mailapi.New(cfg, log)
	if cfg.OpenAIAPIKey != "" {
		deps.LLM = llm.NewClient(llm.Config{
			APIKey:    cfg.OpenAIAPIKey,
			Model:     cfg.LLMModel,
			MaxTokens: cfg.LLMMaxTokens,
			Timeout:   time.Duration(cfg.LLMTimeoutSec) * time.Second,
		}, log)
	} else {
		log.Warn("OPENAI_API_KEY not set, LLM categorization and deposit PDF extraction disabled")
	}

	var providers []out.RateProvider
	if cfg.BCCRAPIURL != "" {
		providers = append(providers, rates.NewBCCRProvider(cfg.BCCRAPIURL))
	}
	if cfg.FxFallbackURL != "" {
		providers = append(providers, rates.NewFallbackProvider(cfg.FxFallbackURL))
	}
	providers = append(providers, &fx.StaticProvider{Rate: decimal.NewFromFloat(cfg.FxDefaultRate)})

	// Messaging
	deps.Stream = stream.NewRedisStream(redisClient, streamGroup, zlogFor("stream"))
	deps.Producer = stream.NewProducer(deps.Stream)

	// Services
	deps.Parsers = parser.NewRegistry()
	deps.Normalizer = normalize.NewService(deps.Merchants, log)
	deps.Categorizer = categorize.NewService(
		deps.Patterns,
		deps.Contacts,
		deps.Transactions,
		deps.Suggestions,
		deps.Subcategories,
		deps.LLM,
		log,
	)
	deps.Rates = fx.NewService(deps.RateStore, providers, log)
	deps.StmtParser = statement.NewParser(log)
	deps.Reconciler = reconcile.NewService(deps.Transactions, deps.Statements, log)
	deps.Pipeline = syncsvc.NewPipeline(
		deps.Parsers,
		deps.Normalizer,
		deps.Cards,
		deps.Transactions,
		deps.Categorizer,
		deps.Rates,
		deps.Archive,
		log,
	)
	deps.Syncs = syncsvc.NewService(
		syncsvc.Config{
			SenderAllowlist: cfg.MailSenderAllowlist,
			TraslapeDays:    cfg.TraslapeDays,
			OnboardingDays:  cfg.OnboardingDays,
		},
		deps.Profiles,
		deps.Mail,
		deps.Pipeline,
		deps.Statements,
		deps.StmtParser,
		deps.Reconciler,
		deps.Runs,
		deps.LLM,
		deps.Archive,
		log,
	)
	deps.Learn = learn.NewService(
		deps.UnitOfWork,
		deps.Transactions,
		deps.Patterns,
		deps.Suggestions,
		deps.Contacts,
		log,
	)
	deps.Recurring = recurring.NewService(deps.Transactions, deps.Subscriptions, log)
	deps.Anomaly = anomaly.NewService(deps.Transactions, deps.Cards, log)

	return deps, cleanup, nil
}
