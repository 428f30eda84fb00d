package main

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/config"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/content"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/database"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/scoring"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/server"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/voting"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type application struct {
	config  config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	votes   *voting.Service
	handler http.Handler
}

func newApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}

	registry := metrics.NewRegistry()
	dispatcher := server.NewRealtimeDispatcher()

	scores, err := scoring.NewStore(scoring.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	votes, err := voting.NewService(voting.ServiceConfig{
		Database:   db,
		Scores:     scores,
		IDProvider: voting.NewUUIDProvider(),
		Publisher:  dispatcher,
		Metrics:    metrics.NewVoteMetrics(registry),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		IDProvider: voting.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	usersService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return nil, err
	}

	deps := server.Dependencies{
		Votes:          votes,
		Scores:         scores,
		Content:        contentService,
		Users:          usersService,
		Sessions:       sessions,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}
	if appConfig.MetricsEnabled {
		deps.HTTPMetrics = metrics.NewHTTPMetrics(registry)
		deps.MetricsHandler = metrics.Handler(registry)
	}
	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return nil, err
	}

	return &application{
		config:  appConfig,
		logger:  logger,
		db:      db,
		votes:   votes,
		handler: handler,
	}, nil
}

// Close releases the database connection and flushes logs.
func (a *application) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
