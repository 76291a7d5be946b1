package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/metergate/walletledger/internal/cache"
	"github.com/metergate/walletledger/internal/pricing"
	"github.com/metergate/walletledger/internal/wallet"

	"github.com/gin-gonic/gin"
)

// WalletHandler exposes the ledger operations to the billing middleware
// that wraps provider calls.
type WalletHandler struct {
	ledger *wallet.Ledger
	cache  *cache.StatusCache
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(ledger *wallet.Ledger, statusCache *cache.StatusCache) *WalletHandler {
	return &WalletHandler{ledger: ledger, cache: statusCache}
}

// debitRequest defines the request body for a debit. Either cost_usd or a
// provider/model/unit-count triple must be given.
type debitRequest struct {
	UserID      string  `json:"user_id"`
	KeyCode     string  `json:"key_code"`
	CostUSD     float64 `json:"cost_usd"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	InputUnits  int64   `json:"input_units"`
	OutputUnits int64   `json:"output_units"`
	Description string  `json:"description"`
}

// Debit applies a single charge against the caller's wallet.
func (h *WalletHandler) Debit(c *gin.Context) {
	var body debitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid json"})
		return
	}

	req := wallet.DebitRequest{
		UserID:      body.UserID,
		KeyCode:     body.KeyCode,
		Provider:    body.Provider,
		Model:       body.Model,
		InputUnits:  body.InputUnits,
		OutputUnits: body.OutputUnits,
		Description: body.Description,
	}
	if body.CostUSD != 0 {
		req.CostMicros = pricing.USDToMicros(body.CostUSD)
	}

	result, errDebit := h.ledger.Debit(c.Request.Context(), req)
	if errDebit != nil {
		writeLedgerError(c, errDebit)
		return
	}

	h.cache.Invalidate(c.Request.Context(), strings.TrimSpace(body.UserID))

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"key_code":        result.KeyCode,
		"cost_usd":        pricing.MicrosToUSD(result.CostMicros),
		"new_balance_usd": pricing.MicrosToUSD(result.RemainingMicros),
		"key_status":      result.Status,
		"message":         result.Message,
	})
}

// Status returns the aggregate wallet view for a user. Responses are
// served from the Redis cache when fresh enough.
func (h *WalletHandler) Status(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing user_id"})
		return
	}

	ctx := c.Request.Context()
	status, version, cached := h.cache.GetStatus(ctx, userID)
	if !cached {
		var errStatus error
		status, errStatus = h.ledger.WalletStatus(ctx, userID)
		if errStatus != nil {
			writeLedgerError(c, errStatus)
			return
		}
		h.cache.SetStatus(ctx, status, version)
	}

	out := gin.H{
		"user_id":           status.UserID,
		"total_balance_usd": pricing.MicrosToUSD(status.TotalMicros),
		"active_key_count":  status.ActiveKeyCount,
	}
	if status.PrimaryKeyCode != "" {
		out["primary_key"] = gin.H{
			"key_code":      status.PrimaryKeyCode,
			"remaining_usd": pricing.MicrosToUSD(status.PrimaryRemaining),
		}
	}
	c.JSON(http.StatusOK, out)
}

// checkRequest defines the request body for a pre-flight balance check.
type checkRequest struct {
	UserID      string  `json:"user_id"`
	RequiredUSD float64 `json:"required_usd"`
	Provider    string  `json:"provider"`
}

// Check runs the debit path's selection without mutating anything, so a
// caller can verify funds before committing to an expensive call.
func (h *WalletHandler) Check(c *gin.Context) {
	var body checkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid json"})
		return
	}

	result, errCheck := h.ledger.CheckSufficientBalance(
		c.Request.Context(), body.UserID, pricing.USDToMicros(body.RequiredUSD), body.Provider)
	if errCheck != nil {
		writeLedgerError(c, errCheck)
		return
	}

	out := gin.H{
		"sufficient":    result.Sufficient,
		"available_usd": pricing.MicrosToUSD(result.AvailableMicros),
	}
	if result.KeyCode != "" {
		out["key_code"] = result.KeyCode
	}
	c.JSON(http.StatusOK, out)
}

// FindKey exposes the selection policy standalone for callers that want to
// pin a key before a multi-step operation.
func (h *WalletHandler) FindKey(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing user_id"})
		return
	}

	key, errFind := h.ledger.FindActiveKey(c.Request.Context(), userID, c.Query("provider"))
	if errFind != nil {
		// Here the missing key is the looked-up resource itself.
		if errors.Is(errFind, wallet.ErrNoActiveKey) {
			c.JSON(http.StatusNotFound, gin.H{"code": codeNoActiveKey, "error": errFind.Error()})
			return
		}
		writeLedgerError(c, errFind)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key_code":      key.KeyCode,
		"provider":      key.Provider,
		"remaining_usd": pricing.MicrosToUSD(key.RemainingMicros()),
	})
}
