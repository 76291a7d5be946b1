// Package http wires the gin routes and middleware of the ledger service.
package http

import (
	"net/http"

	"github.com/metergate/walletledger/internal/cache"
	"github.com/metergate/walletledger/internal/http/handlers"
	"github.com/metergate/walletledger/internal/wallet"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterRoutes registers the wallet and admin route groups.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ledger *wallet.Ledger, statusCache *cache.StatusCache, adminToken string) {
	if r == nil || db == nil || ledger == nil {
		return
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	walletHandler := handlers.NewWalletHandler(ledger, statusCache)
	txnHandler := handlers.NewTransactionHandler(db)

	walletGroup := r.Group("/v0/wallet")
	walletGroup.POST("/debit", walletHandler.Debit)
	walletGroup.GET("/status", walletHandler.Status)
	walletGroup.POST("/check", walletHandler.Check)
	walletGroup.GET("/keys/find", walletHandler.FindKey)
	walletGroup.GET("/transactions", txnHandler.List)

	adminKeyHandler := handlers.NewAdminKeyHandler(db, statusCache)
	adminGroup := r.Group("/v0/admin")
	adminGroup.Use(AdminAuthMiddleware(adminToken))
	adminGroup.POST("/keys", adminKeyHandler.Create)
	adminGroup.GET("/keys", adminKeyHandler.List)
	adminGroup.POST("/keys/:code/topup", adminKeyHandler.Topup)
	adminGroup.POST("/keys/:code/revoke", adminKeyHandler.Revoke)
}
