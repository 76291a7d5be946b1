package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/metergate/walletledger/internal/cache"
	dbutil "github.com/metergate/walletledger/internal/db"
	"github.com/metergate/walletledger/internal/models"
	"github.com/metergate/walletledger/internal/pricing"
	"github.com/metergate/walletledger/internal/security"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AdminKeyHandler handles the provisioning and funding flow for wallet
// keys. The ledger itself never creates or refunds keys; that happens
// here, behind the admin token.
type AdminKeyHandler struct {
	db    *gorm.DB
	cache *cache.StatusCache
}

// NewAdminKeyHandler constructs an AdminKeyHandler.
func NewAdminKeyHandler(db *gorm.DB, statusCache *cache.StatusCache) *AdminKeyHandler {
	return &AdminKeyHandler{db: db, cache: statusCache}
}

// serializeKey converts a key model to an API response payload.
func serializeKey(row *models.Key) gin.H {
	return gin.H{
		"key_code":      row.KeyCode,
		"user_id":       row.UserID,
		"name":          row.Name,
		"provider":      row.Provider,
		"balance_usd":   pricing.MicrosToUSD(row.BalanceMicros),
		"used_usd":      pricing.MicrosToUSD(row.UsedMicros),
		"remaining_usd": pricing.MicrosToUSD(row.RemainingMicros()),
		"status":        row.Status,
		"last_used_at":  row.LastUsedAt,
		"last_provider": row.LastProvider,
		"created_at":    row.CreatedAt,
		"updated_at":    row.UpdatedAt,
	}
}

// createKeyRequest defines the request body for provisioning a key.
type createKeyRequest struct {
	UserID     string  `json:"user_id"`
	Name       string  `json:"name"`
	Provider   string  `json:"provider"`
	BalanceUSD float64 `json:"balance_usd"`
}

// Create provisions a funded ACTIVE key and returns its generated code.
func (h *AdminKeyHandler) Create(c *gin.Context) {
	var body createKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid json"})
		return
	}

	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing user_id"})
		return
	}
	if body.BalanceUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "balance_usd must be positive"})
		return
	}

	code, errGenerate := security.GenerateKeyCode()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key code failed"})
		return
	}

	now := time.Now().UTC()
	row := models.Key{
		KeyCode:       code,
		UserID:        userID,
		Name:          strings.TrimSpace(body.Name),
		Provider:      strings.ToLower(strings.TrimSpace(body.Provider)),
		BalanceMicros: pricing.USDToMicros(body.BalanceUSD),
		Status:        models.KeyStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create key failed"})
		return
	}

	h.cache.Invalidate(c.Request.Context(), userID)
	c.JSON(http.StatusCreated, serializeKey(&row))
}

// listKeysQuery defines query parameters for listing keys.
type listKeysQuery struct {
	UserID string `form:"user_id"`
	Status string `form:"status"`
	Search string `form:"search"`
	Page   int    `form:"page,default=1"`
	Limit  int    `form:"limit,default=20"`
}

// List returns a paginated list of keys.
func (h *AdminKeyHandler) List(c *gin.Context) {
	var q listKeysQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	query := h.db.WithContext(c.Request.Context()).Model(&models.Key{})
	if userID := strings.TrimSpace(q.UserID); userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if status := strings.ToUpper(strings.TrimSpace(q.Status)); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		condition, args := dbutil.SearchClause(h.db, search, "name", "key_code")
		query = query.Where(condition, args...)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count failed"})
		return
	}

	var rows []models.Key
	offset := (q.Page - 1) * q.Limit
	if errFind := query.Order("created_at DESC").Offset(offset).Limit(q.Limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, serializeKey(&row))
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":  out,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// topupRequest defines the request body for funding a key.
type topupRequest struct {
	AmountUSD float64 `json:"amount_usd"`
}

// Topup raises a key's funded balance. A depleted key whose remaining
// balance becomes positive again returns to ACTIVE in the same write;
// revoked keys stay revoked.
func (h *AdminKeyHandler) Topup(c *gin.Context) {
	code := models.NormalizeKeyCode(c.Param("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing key code"})
		return
	}

	var body topupRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "invalid json"})
		return
	}
	if body.AmountUSD <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "amount_usd must be positive"})
		return
	}
	amountMicros := pricing.USDToMicros(body.AmountUSD)

	ctx := c.Request.Context()
	now := time.Now().UTC()
	res := h.db.WithContext(ctx).Model(&models.Key{}).
		Where("key_code = ?", code).
		Updates(map[string]any{
			"balance_micros": gorm.Expr("balance_micros + ?", amountMicros),
			"status": gorm.Expr("CASE WHEN status = ? AND balance_micros + ? - used_micros > 0 THEN ? ELSE status END",
				models.KeyStatusDepleted, amountMicros, models.KeyStatusActive),
			"updated_at": now,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "topup failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"code": codeKeyNotFound, "error": "key not found"})
		return
	}

	var row models.Key
	if errFind := h.db.WithContext(ctx).Where("key_code = ?", code).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": codeKeyNotFound, "error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load key failed"})
		return
	}

	h.cache.Invalidate(ctx, row.UserID)
	c.JSON(http.StatusOK, serializeKey(&row))
}

// Revoke disables a key permanently; revoked keys are excluded from
// selection and from debits.
func (h *AdminKeyHandler) Revoke(c *gin.Context) {
	code := models.NormalizeKeyCode(c.Param("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "missing key code"})
		return
	}

	ctx := c.Request.Context()
	var row models.Key
	if errFind := h.db.WithContext(ctx).Where("key_code = ?", code).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": codeKeyNotFound, "error": "key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load key failed"})
		return
	}

	res := h.db.WithContext(ctx).Model(&models.Key{}).
		Where("key_code = ?", code).
		Updates(map[string]any{
			"status":     models.KeyStatusRevoked,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}

	h.cache.Invalidate(ctx, row.UserID)
	c.Status(http.StatusNoContent)
}
