package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hsdarestani/HamAan/internal/config"
	tginfra "github.com/hsdarestani/HamAan/internal/infra/telegram"
	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	redrepo "github.com/hsdarestani/HamAan/internal/repo/redis"
	billingsvc "github.com/hsdarestani/HamAan/internal/services/billing"
	chatsvc "github.com/hsdarestani/HamAan/internal/services/chat"
	purchasesvc "github.com/hsdarestani/HamAan/internal/services/purchases"
	ratesvc "github.com/hsdarestani/HamAan/internal/services/rate"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	purchases  *purchasesvc.Service
	httpRouter http.Handler
}

// New wires the repos and services onto the router. Postgres and redis init
// failures degrade instead of aborting so /healthz stays useful while a
// dependency is down.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	var redisClient *goredis.Client
	if c, err := redrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		log.Warn("redis init failed, continuing in degraded mode", zap.Error(err))
	} else {
		redisClient = c
	}

	userRepo := pgrepo.NewUserRepo(pool)
	walletRepo := pgrepo.NewWalletRepo(pool)
	ledgerRepo := pgrepo.NewLedgerRepo(pool)
	coinPackRepo := pgrepo.NewCoinPackRepo(pool)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	conversationRepo := pgrepo.NewConversationRepo(pool)
	rateRepo := redrepo.NewRateRepo(redisClient)
	packCacheRepo := redrepo.NewPackCacheRepo(redisClient)

	billingService := billingsvc.NewService(billingsvc.Dependencies{
		Ledger:      ledgerRepo,
		Wallets:     walletRepo,
		PageSize:    cfg.Billing.TxnPageSize,
		PageSizeMax: cfg.Billing.TxnPageSizeMax,
	})
	userService := userssvc.NewService(userRepo, walletRepo)
	purchaseService := purchasesvc.NewService(purchasesvc.Dependencies{
		Packs:        coinPackRepo,
		Purchases:    purchaseRepo,
		Cache:        packCache(redisClient, packCacheRepo),
		PurchaseTTL:  cfg.Billing.PurchaseTTL,
		PackCacheTTL: cfg.Billing.PackCacheTTL,
	})
	replyLimiter := ratesvc.NewReplyLimiter(rateRepo, cfg.Chat.RepliesPerMinute, cfg.Chat.RepliesPer10Sec)
	chatService := chatsvc.NewService(chatsvc.Dependencies{
		Conversations:  conversationRepo,
		Biller:         billingService,
		Limiter:        replyLimiter,
		ReplyCost:      cfg.Chat.ReplyCost,
		DefaultPersona: cfg.Chat.DefaultPersona,
		HistoryPage:    cfg.Chat.HistoryPageSize,
	})

	if cfg.Telegram.BotToken != "" {
		if notifier, err := tginfra.NewNotifier(cfg.Telegram.BotToken, userRepo, log); err != nil {
			log.Warn("telegram notifier init failed, purchases will not notify", zap.Error(err))
		} else {
			purchaseService.AttachNotifier(notifier)
		}
	}

	RegisterRoutes(r, Dependencies{
		BillingService:  billingService,
		PurchaseService: purchaseService,
		ChatService:     chatService,
		UserService:     userService,
		Logger:          log,
		Config:          cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		purchases:  purchaseService,
		httpRouter: r,
	}, nil
}

// packCache keeps the purchase service on the database path when redis is
// degraded.
func packCache(client *goredis.Client, repo *redrepo.PackCacheRepo) purchasesvc.PackCache {
	if client == nil {
		return nil
	}
	return repo
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

// Purchases exposes the purchase service for the cleanup job.
func (a *App) Purchases() *purchasesvc.Service {
	return a.purchases
}
