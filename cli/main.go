package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gateway "github.com/chabi-bot/chabi/apigateway"
	"github.com/chabi-bot/chabi/chatbot"
	"github.com/chabi-bot/chabi/messenger"
	"github.com/chabi-bot/chabi/store"
	"github.com/chabi-bot/chabi/webhook"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

var logrusLogger = logrus.New()
var logSampling gateway.LogSamplingConfig

const shutdownTimeout = 10 * time.Second

// server holds everything main wires together.
type server struct {
	engine *gin.Engine
	db     *store.DB
	seen   store.Seen
}

func (s *server) Close() {
	if closer, ok := s.seen.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logrusLogger.WithError(err).Warn("close redis")
		}
	}
	if err := s.db.Close(); err != nil {
		logrusLogger.WithError(err).Warn("close database")
	}
}

func newServer(cfg Config) (*server, error) {
	db, err := store.Open(cfg.DatabaseURL, cfg.DatabasePath, cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	logrusLogger.WithField("driver", db.Driver).Info("database ready")

	links, err := store.NewLinks(db, store.WithDataKey(cfg.DataKey))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var seen store.Seen = store.NewMemorySeen(cfg.SeenLimit)
	if cfg.RedisAddr != "" {
		redisSeen := store.NewRedisSeen(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, time.Duration(cfg.SeenTTLSeconds)*time.Second)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisSeen.Ping(ctx); err != nil {
			logrusLogger.WithError(err).Warn("redis unreachable, deduplicating in memory")
			_ = redisSeen.Close()
		} else {
			seen = redisSeen
		}
		cancel()
	}

	client := messenger.NewClient(cfg.GraphURL, cfg.PageAccessToken, logrusLogger)

	var bot chatbot.Chatbot = chatbot.Echo{}
	if cfg.NLU.URL != "" {
		bot = chatbot.NewAPIAI(cfg.NLU.URL, cfg.NLU.Token, cfg.NLU.Lang, logrusLogger)
	}

	linker := &chatbot.Linker{Links: links, Unlinker: client, Logger: logrusLogger}
	var loginPage *webhook.LoginPage
	if cfg.AccountLinkEnabled() {
		codes := chatbot.NewAuthCodes(cfg.AccountLink.JWTKey, time.Duration(cfg.AccountLink.CodeTTLSeconds)*time.Second)
		linker.Codes = codes
		loginPage = &webhook.LoginPage{
			Title:         cfg.AccountLink.PageTitle,
			Codes:         codes,
			Accounts:      cfg.AccountLink.Accounts,
			RedirectHosts: cfg.AccountLink.RedirectHosts,
			Logger:        logrusLogger,
		}
	}

	events := &chatbot.Events{
		Postbacks: cfg.Postbacks,
		Linker:    linker,
		Template: chatbot.LinkTemplate{
			LoginTitle:  cfg.AccountLink.LoginTitle,
			LogoutTitle: cfg.AccountLink.LogoutTitle,
			ImageURL:    cfg.AccountLink.ImageURL,
			LoginURL:    cfg.AccountLink.LoginURL,
		},
		Logger: logrusLogger,
	}

	svc := &webhook.Service{
		VerifyToken: cfg.VerifyToken,
		Sender:      client,
		Bot:         bot,
		Events:      events,
		Seen:        seen,
		Metrics:     gateway.NewEventMetrics(nil),
		Logger:      logrusLogger,
	}

	return &server{
		engine: GetMainEngine(cfg, svc, loginPage),
		db:     db,
		seen:   seen,
	}, nil
}

// GetMainEngine builds the gin engine serving the webhook, the login page,
// /health and /metrics.
func GetMainEngine(cfg Config, svc *webhook.Service, loginPage *webhook.LoginPage) *gin.Engine {
	if !cfg.IsDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	route := gin.New()
	route.Use(gin.Recovery(), gateway.RequestID(), gateway.RequestLogger(logrusLogger, logSampling))

	p := ginprometheus.NewPrometheus("chabi")
	p.Use(route)

	route.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	svc.RegisterRoutes(route, cfg.AppSecret)
	if loginPage != nil {
		loginPage.RegisterRoutes(route)
	}
	return route
}

func main() {
	if isHashPasswordCommand() {
		if err := hashPassword(os.Args[2:], os.Stdout); err != nil {
			logrusLogger.Fatal(err)
		}
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		logrusLogger.Fatalf("error loading config: %v", err)
	}
	configureLogger(cfg)
	if cfg.AppSecret == "" {
		logrusLogger.Warn("app_secret not set, webhook signatures are not verified")
	}

	srv, err := newServer(cfg)
	if err != nil {
		logrusLogger.Fatalf("error starting chabi: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              cfg.Port,
		Handler:           srv.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrusLogger.WithError(err).Warn("shutdown failed")
		}
	}()

	logrusLogger.WithField("addr", cfg.Port).Info("chabi listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrusLogger.Fatal(err)
	}
}
