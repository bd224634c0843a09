package bootstrap

import (
	"os"

	api "finanzas/adapter/in/http"
	"finanzas/config"
	"finanzas/infra/middleware"
	"finanzas/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// zlogFor builds the zerolog logger used by the stream and worker
// components. Core services keep the JSON logger from pkg/logger.
func zlogFor(component string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("component", component).
		Logger()
}

// NewAPI builds the read-model HTTP server and its dependencies.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	initLogger(cfg, "finanzas-api")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("dependency init failed")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	// Probes stay outside the token check.
	api.NewHealthHandler(deps.DB, deps.Redis).Register(app)

	v1 := app.Group("/api/v1", middleware.BearerAuth(cfg.APIToken))
	api.NewProfileHandler(deps.Profiles, deps.Runs, deps.Producer).Register(v1)
	api.NewTransactionHandler(deps.Transactions, deps.Learn).Register(v1)
	api.NewStatementHandler(deps.Statements).Register(v1)
	api.NewSubscriptionHandler(deps.Subscriptions, deps.Recurring).Register(v1)
	api.NewDuplicateHandler(deps.Duplicates).Register(v1)
	api.NewSummaryHandler(deps.Analytics, deps.Aggregates, logger.Default()).Register(v1)

	return app, cleanup, nil
}

func initLogger(cfg *config.Config, service string) {
	level := logger.LevelInfo
	if cfg.IsDevelopment() {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{Level: level, Service: service})
}
