package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/counsel-platform/internal/account"
	"github.com/suPer8Hu/counsel-platform/internal/analysis"
	"github.com/suPer8Hu/counsel-platform/internal/attachment"
	"github.com/suPer8Hu/counsel-platform/internal/chat"
	"github.com/suPer8Hu/counsel-platform/internal/config"
	"github.com/suPer8Hu/counsel-platform/internal/db"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi"
	"github.com/suPer8Hu/counsel-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/counsel-platform/internal/logger"
	"github.com/suPer8Hu/counsel-platform/internal/msgcrypt"
	"github.com/suPer8Hu/counsel-platform/internal/prompt"
	"github.com/suPer8Hu/counsel-platform/internal/storage"
	"github.com/suPer8Hu/counsel-platform/internal/store/rabbitmq"
	"github.com/suPer8Hu/counsel-platform/internal/store/redisstore"
	"github.com/suPer8Hu/counsel-platform/internal/usage"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	models := append([]any{&account.Account{}}, chat.Models()...)
	models = append(models, analysis.Models()...)
	gdb, err := db.Connect(cfg.DBDSN, log, models...)
	if err != nil {
		return err
	}

	cipher, err := msgcrypt.NewFromBase64(cfg.MessageKey)
	if err != nil {
		return err
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rds.Close() }()
	if err := rds.Ping(ctx); err != nil {
		return err
	}

	accounts := account.NewRepo(gdb)
	meter, err := usage.NewRedisMeter(rds.Client(), accounts, usage.Limits{
		account.PlanFree:  {Messages: cfg.UsageFreeMessages, Chars: cfg.UsageFreeChars},
		account.PlanPaid:  {Messages: cfg.UsagePaidMessages, Chars: cfg.UsagePaidChars},
		account.PlanAdmin: {},
	}, cfg.UsageWindow, "")
	if err != nil {
		return err
	}

	llm, err := newRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		return err
	}
	if c, ok := llm.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	persona, err := prompt.Load(cfg.PromptFile)
	if err != nil {
		return err
	}

	repo := chat.NewRepo(gdb, log)
	opts := []chat.Option{
		chat.WithLogger(log),
		chat.WithPersona(persona),
		chat.WithContextWindow(cfg.ChatContextWindowSize),
		chat.WithLLMTimeout(cfg.LLMTimeout),
	}

	deps := handlers.Deps{
		Cfg:      cfg,
		Log:      log,
		Accounts: accounts,
		Sessions: rds,
		Usage:    meter,
		Samples:  analysis.NewService(gdb, repo, cipher, log),
	}

	if cfg.MinioAccessKey != "" {
		store, err := storage.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioRegion, cfg.MinioUseSSL)
		if err != nil {
			return err
		}
		deps.Files = store
		opts = append(opts, chat.WithAttachments(attachment.NewResolver(store, log)))
	} else {
		log.Warn("object storage disabled: MINIO_ACCESS_KEY is empty")
	}

	if cfg.FeedbackEvents && cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer func() { _ = pub.Close() }()
		opts = append(opts, chat.WithEventPublisher(pub))
	} else {
		log.Warn("feedback events disabled: set FEEDBACK_EVENTS_ENABLED=true to publish to RabbitMQ")
	}

	deps.Chat = chat.NewService(repo, cipher, meter, llm, opts...)

	r := httpapi.NewRouter(deps, httpapi.Auth{
		Secret:   cfg.JWTSecret,
		Sessions: rds,
		Accounts: accounts,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("ai_provider", cfg.AIProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
