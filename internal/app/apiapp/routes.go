package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hsdarestani/HamAan/internal/config"
	billingsvc "github.com/hsdarestani/HamAan/internal/services/billing"
	chatsvc "github.com/hsdarestani/HamAan/internal/services/chat"
	purchasesvc "github.com/hsdarestani/HamAan/internal/services/purchases"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/handlers"
)

type Dependencies struct {
	BillingService  *billingsvc.Service
	PurchaseService *purchasesvc.Service
	ChatService     *chatsvc.Service
	UserService     *userssvc.Service
	Logger          *zap.Logger
	Config          config.Config
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	userHandler := handlers.NewUserHandler(deps.UserService)
	walletHandler := handlers.NewWalletHandler(deps.BillingService, deps.UserService)
	purchaseHandler := handlers.NewPurchaseHandler(deps.PurchaseService, deps.UserService)
	chatHandler := handlers.NewChatHandler(deps.ChatService, deps.UserService)
	adminHandler := handlers.NewAdminHandler(deps.BillingService, deps.UserService)

	gatewayMW := GatewayTokenMiddleware(deps.Config.Gateway.CallbackToken)
	adminMW := AdminTokenMiddleware(deps.Config.Admin.Token)

	r.Get("/healthz", healthHandler.Get)

	r.Post("/users/telegram", userHandler.Register)

	r.Get("/wallet", walletHandler.Get)
	r.Get("/wallet/balance", walletHandler.Balance)
	r.Get("/wallet/txns", walletHandler.Txns)

	r.Get("/coin-packs", purchaseHandler.Packs)
	r.Post("/purchase", purchaseHandler.Create)
	r.Get("/purchase/status", purchaseHandler.Status)
	r.Post("/purchase/cancel", purchaseHandler.Cancel)
	r.With(gatewayMW).Post("/payment/callback", purchaseHandler.Callback)

	r.Post("/chat/conversations", chatHandler.Open)
	r.Post("/chat/replies", chatHandler.Reply)
	r.Get("/chat/history", chatHandler.History)

	r.Route("/admin/wallet", func(r chi.Router) {
		r.Use(adminMW)
		r.Post("/freeze", adminHandler.Freeze)
		r.Post("/unfreeze", adminHandler.Unfreeze)
		r.Post("/adjust", adminHandler.Adjust)
		r.Post("/rebuild", adminHandler.Rebuild)
	})
	r.With(adminMW).Post("/admin/coin-packs/refresh", purchaseHandler.RefreshPacks)
}
