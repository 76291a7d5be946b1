// Package handlers implements the HTTP endpoints of the wallet ledger.
package handlers

import (
	"errors"
	"net/http"

	"github.com/metergate/walletledger/internal/pricing"
	"github.com/metergate/walletledger/internal/wallet"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Stable machine codes carried in error responses alongside the message.
const (
	codeInvalidRequest       = "INVALID_REQUEST"
	codeNoActiveKey          = "NO_ACTIVE_KEY"
	codeKeyNotFound          = "KEY_NOT_FOUND"
	codeKeyOwnershipMismatch = "KEY_OWNERSHIP_MISMATCH"
	codeKeyNotActive         = "KEY_NOT_ACTIVE"
	codeInsufficientBalance  = "INSUFFICIENT_BALANCE"
	codeStorageUnavailable   = "STORAGE_UNAVAILABLE"
)

// writeLedgerError maps a ledger failure onto an HTTP status and a stable
// error code. A user with no chargeable key cannot pay, so NoActiveKey is
// 402 alongside InsufficientBalance; lookup endpoints that treat it as a
// missing resource map it themselves. Storage failures stay
// distinguishable from business rejections so clients never misread an
// outage as a depleted wallet.
func writeLedgerError(c *gin.Context, err error) {
	var notActive *wallet.KeyNotActiveError
	var insufficient *wallet.InsufficientBalanceError
	var storage *wallet.StorageError

	switch {
	case errors.Is(err, wallet.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
	case errors.Is(err, wallet.ErrNoActiveKey):
		c.JSON(http.StatusPaymentRequired, gin.H{"code": codeNoActiveKey, "error": err.Error()})
	case errors.Is(err, wallet.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeKeyNotFound, "error": err.Error()})
	case errors.Is(err, wallet.ErrKeyOwnershipMismatch):
		c.JSON(http.StatusForbidden, gin.H{"code": codeKeyOwnershipMismatch, "error": err.Error()})
	case errors.As(err, &notActive):
		c.JSON(http.StatusConflict, gin.H{
			"code":       codeKeyNotActive,
			"error":      notActive.Error(),
			"key_status": notActive.Status,
		})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"code":          codeInsufficientBalance,
			"error":         insufficient.Error(),
			"available_usd": pricing.MicrosToUSD(insufficient.AvailableMicros),
			"required_usd":  pricing.MicrosToUSD(insufficient.RequiredMicros),
		})
	case errors.As(err, &storage):
		log.WithError(err).Error("handlers: storage failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": codeStorageUnavailable, "error": "storage unavailable"})
	default:
		log.WithError(err).Error("handlers: unexpected failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
