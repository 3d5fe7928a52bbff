// internal/app/server.go
package app

import (
	"fmt"
	"log"

	"mindwell-service/internal/config"
	"mindwell-service/internal/db"
	sessionHandler "mindwell-service/internal/handlers/session"
	subscriptionHandler "mindwell-service/internal/handlers/subscription"
	"mindwell-service/internal/middleware"
	"mindwell-service/internal/pkg/session"
	"mindwell-service/internal/repository/postgres"
	"mindwell-service/internal/service/email"
	subscriptionUsecase "mindwell-service/internal/service/subscription"
	usageUsecase "mindwell-service/internal/service/usage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Println("[REDIS] connected successfully")

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- Redis message-counter mirror -----
	counter := session.NewMessageCounter(redisClient, s.cfg.CounterTTL)

	// ----- Email -----
	var mailer subscriptionUsecase.AccessCodeMailer
	if s.cfg.SMTPHost != "" {
		mailer = email.NewEmailSender(
			s.cfg.SMTPHost,
			s.cfg.SMTPPort,
			s.cfg.SMTPUser,
			s.cfg.SMTPPass,
			s.cfg.SMTPFromName,
			s.cfg.SMTPSecure,
		)
	}

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	subscriptionRepo := postgres.NewSubscriptionRepository(pool)
	ledgerRepo := postgres.NewUsageLedgerRepository(pool)
	conversationRepo := postgres.NewConversationRepository(pool)

	// ----- Services -----
	subscriptionService := subscriptionUsecase.NewSubscriptionService(
		subscriptionRepo,
		s.cfg.Plans,
		mailer,
		logger,
	)
	usageService := usageUsecase.NewUsageService(
		ledgerRepo,
		conversationRepo,
		subscriptionRepo,
		dbWrapper,
		counter,
		logger,
	)

	// ----- Handlers -----
	subscriptionHandlerInst := subscriptionHandler.NewSubscriptionHandler(subscriptionService, usageService)
	sessionHandlerInst := sessionHandler.NewSessionHandler(usageService)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	handlers := &Handlers{
		SubscriptionHandler: subscriptionHandlerInst,
		SessionHandler:      sessionHandlerInst,
	}
	SetupRouter(s.engine, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}
